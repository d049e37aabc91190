package routers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"codesync/internal/config"
	"codesync/internal/registry"
	"codesync/internal/relay"
	"codesync/internal/session"
)

func testRouter() http.Handler {
	cfg := &config.Config{Port: "8080", CORSOrigins: []string{"*"}}
	rel := relay.New(registry.New(), session.NewHub(), zap.NewNop())
	return New(zap.NewNop(), cfg, rel)
}

func TestRoutes(t *testing.T) {
	router := testRouter()

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{
			name:           "Health endpoint exists",
			method:         http.MethodGet,
			path:           "/api/v1/healthz",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Room status endpoint exists",
			method:         http.MethodGet,
			path:           "/api/v1/rooms/unknown-room",
			expectedStatus: http.StatusNotFound, // route exists, room does not
		},
		{
			name:           "Token endpoint exists",
			method:         http.MethodPost,
			path:           "/api/v1/rooms/token",
			expectedStatus: http.StatusServiceUnavailable, // no signing secret configured
		},
		{
			name:           "Metrics endpoint exists",
			method:         http.MethodGet,
			path:           "/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Websocket endpoint rejects plain GET",
			method:         http.MethodGet,
			path:           "/ws",
			expectedStatus: http.StatusBadRequest, // not a websocket handshake
		},
		{
			name:           "Unknown route",
			method:         http.MethodGet,
			path:           "/api/v1/nope",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}
