package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codesync",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "path", "status"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codesync",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	}, []string{"service"})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "relay_events_received_total",
		Help:      "Inbound relay events by type",
	}, []string{"type"})

	eventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "relay_events_relayed_total",
		Help:      "Events forwarded to a room or a single target, by outbound type",
	}, []string{"type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "relay_events_dropped_total",
		Help:      "Events dropped locally instead of relayed, by reason",
	}, []string{"reason"})

	participants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesync",
		Name:      "relay_participants",
		Help:      "Currently registered participants",
	})

	rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesync",
		Name:      "relay_rooms",
		Help:      "Rooms with at least one participant",
	})
)

// EventReceived counts one inbound event.
func EventReceived(eventType string) { eventsReceived.WithLabelValues(eventType).Inc() }

// EventRelayed counts one forwarded event.
func EventRelayed(eventType string) { eventsRelayed.WithLabelValues(eventType).Inc() }

// EventDropped counts one locally-dropped event.
func EventDropped(reason string) { eventsDropped.WithLabelValues(reason).Inc() }

// SetPopulation records the current participant and room counts.
func SetPopulation(participantCount, roomCount int) {
	participants.Set(float64(participantCount))
	rooms.Set(float64(roomCount))
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps the websocket upgrade path working behind the recorder.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics with Prometheus labels.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.WithLabelValues(service).Inc()
			defer httpInFlight.WithLabelValues(service).Dec()

			next.ServeHTTP(rec, r)

			labels := prometheus.Labels{
				"service": service,
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  strconv.Itoa(rec.status),
			}
			httpRequests.With(labels).Inc()
			httpLatency.With(labels).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
