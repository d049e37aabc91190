package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"codesync/internal/metrics"
	"codesync/internal/models"
	"codesync/internal/registry"
	"codesync/internal/session"
)

// PresencePublisher mirrors local membership and status transitions to peer
// relay instances. Publishing is fire-and-forget.
type PresencePublisher interface {
	PublishPresence(event models.PresenceEvent)
}

// Relay owns the session registry and the broadcast hub. Every inbound
// event is processed to completion under a single mutex, so registry
// read-modify-writes never interleave even though each websocket has its
// own reader goroutine.
type Relay struct {
	mu        sync.Mutex
	reg       *registry.Registry
	hub       *session.Hub
	log       *zap.Logger
	publisher PresencePublisher
}

type Option func(*Relay)

// WithPresencePublisher attaches the cross-instance presence bridge.
func WithPresencePublisher(p PresencePublisher) Option {
	return func(r *Relay) { r.publisher = p }
}

func New(reg *registry.Registry, hub *session.Hub, log *zap.Logger, opts ...Option) *Relay {
	r := &Relay{reg: reg, hub: hub, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// addressing policies for relayed events
type policy int

const (
	roomExcludeSender policy = iota
	roomIncludeSender // only remote presence uses this; no inbound event does
	singleTarget
)

// how a relayed event's room or target is resolved
type source int

const (
	bySender      source = iota // sender's own registry record
	byConnField                 // connectionId field in the payload
	byTargetField               // targetConnectionId field in the payload
)

type route struct {
	policy policy
	source source
}

// routes covers the pure relay events: the payload is opaque and forwarded
// unchanged, only the addressing differs. Events that mutate presence state
// (join, typing, status, chat, disconnection) have dedicated handlers in
// Dispatch.
var routes = map[string]route{
	models.EventSyncFileStructure: {policy: singleTarget, source: byTargetField},

	models.EventDirectoryCreated: {policy: roomExcludeSender, source: bySender},
	models.EventDirectoryUpdated: {policy: roomExcludeSender, source: bySender},
	models.EventDirectoryRenamed: {policy: roomExcludeSender, source: bySender},
	models.EventDirectoryDeleted: {policy: roomExcludeSender, source: bySender},
	models.EventFileCreated:      {policy: roomExcludeSender, source: bySender},
	models.EventFileUpdated:      {policy: roomExcludeSender, source: bySender},
	models.EventFileRenamed:      {policy: roomExcludeSender, source: bySender},
	models.EventFileDeleted:      {policy: roomExcludeSender, source: bySender},

	models.EventRequestDrawing:   {policy: roomExcludeSender, source: byConnField},
	models.EventSyncDrawing:      {policy: roomExcludeSender, source: byConnField},
	models.EventDrawingUpdate:    {policy: roomExcludeSender, source: byConnField},
	models.EventCodeHighlighting: {policy: roomExcludeSender, source: byConnField},
}

// Dispatch processes one inbound event to completion. Failures local to the
// event are logged and dropped; they never affect other connections or
// rooms.
func (r *Relay) Dispatch(c *session.Client, frame models.RawFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.EventReceived(frame.Type)

	switch frame.Type {
	case models.EventJoinRequest:
		r.handleJoin(c, frame.Data)
	case models.EventDisconnection:
		r.leave(c)
	case models.EventTypingStart:
		r.handleTypingStart(c, frame.Data)
	case models.EventTypingPause:
		r.handleTypingPause(c)
	case models.EventUserOnline:
		r.handleStatus(c, frame, models.StatusOnline)
	case models.EventUserOffline:
		r.handleStatus(c, frame, models.StatusOffline)
	case models.EventSendMessage:
		r.handleChat(c, frame.Data)
	default:
		rt, ok := routes[frame.Type]
		if !ok {
			r.log.Warn("dropping unknown event", zap.String("type", frame.Type), zap.String("conn", c.ID))
			metrics.EventDropped("unknown-event")
			return
		}
		r.forward(c, frame, rt)
	}
}

// Disconnect handles the transport's connection-termination notification.
// It shares the leave path with the explicit client-sent disconnection
// event; whichever fires second finds the connection gone and no-ops.
func (r *Relay) Disconnect(c *session.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(c)
}

// RoomStatus returns the participant set of a room in join order. A room
// with no participants does not exist.
func (r *Relay) RoomStatus(roomID string) (models.RoomStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := r.reg.ListByRoom(roomID)
	if len(participants) == 0 {
		return models.RoomStatus{}, false
	}
	return models.RoomStatus{
		RoomID:           roomID,
		ParticipantCount: len(participants),
		Participants:     participants,
	}, true
}

// ApplyRemotePresence re-broadcasts a presence transition observed on a
// peer instance to the local room. The remote participant is not in the
// local registry, so delivery includes every local subscriber.
func (r *Relay) ApplyRemotePresence(ev models.PresenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hub.RoomSize(ev.RoomID) == 0 {
		return
	}

	switch ev.Type {
	case models.EventUserOnline, models.EventUserOffline:
		r.hub.Broadcast(ev.RoomID, nil, models.Frame{Type: ev.Type, Data: models.ConnRef{ConnectionID: ev.User.ConnectionID}})
	case models.EventUserJoined, models.EventUserDisconnected:
		r.hub.Broadcast(ev.RoomID, nil, models.Frame{Type: ev.Type, Data: models.UserEvent{User: ev.User}})
	default:
		r.log.Warn("ignoring remote presence event", zap.String("type", ev.Type))
		return
	}
	metrics.EventRelayed(ev.Type)
}

func (r *Relay) handleJoin(c *session.Client, data json.RawMessage) {
	var req models.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.Username == "" {
		r.log.Warn("dropping malformed join request", zap.String("conn", c.ID), zap.Error(err))
		metrics.EventDropped("bad-payload")
		return
	}

	for _, p := range r.reg.ListByRoom(req.RoomID) {
		if p.Username == req.Username {
			c.Send(models.Frame{Type: models.EventUsernameExists})
			r.log.Info("join rejected, username taken",
				zap.String("room", req.RoomID), zap.String("username", req.Username))
			return
		}
	}

	// a second join from a live connection moves it: capture the current
	// record before the overwrite so the old room can be torn down
	old, _ := r.reg.Find(c.ID)

	p := models.Participant{
		ConnectionID: c.ID,
		RoomID:       req.RoomID,
		Username:     req.Username,
		Status:       models.StatusOnline,
	}
	if err := r.reg.Insert(p); errors.Is(err, registry.ErrDuplicateConnection) {
		r.log.Warn("connection re-joined, leaving previous room",
			zap.String("conn", c.ID), zap.String("from", old.RoomID), zap.String("to", req.RoomID))
		old.Status = models.StatusOffline
		r.hub.Broadcast(old.RoomID, c, models.Frame{Type: models.EventUserDisconnected, Data: models.UserEvent{User: old}})
		metrics.EventRelayed(models.EventUserDisconnected)
		r.hub.Unsubscribe(old.RoomID, c)
		r.publishPresence(models.EventUserDisconnected, old)
	}
	r.hub.Subscribe(req.RoomID, c)

	r.hub.Broadcast(req.RoomID, c, models.Frame{Type: models.EventUserJoined, Data: models.UserEvent{User: p}})
	metrics.EventRelayed(models.EventUserJoined)

	// snapshot after insertion: the joiner sees itself in the list
	c.Send(models.Frame{
		Type: models.EventJoinAccepted,
		Data: models.JoinAccepted{User: p, Users: r.reg.ListByRoom(req.RoomID)},
	})

	r.publishPresence(models.EventUserJoined, p)
	metrics.SetPopulation(r.reg.Len(), r.reg.RoomCount())
	r.log.Info("participant joined",
		zap.String("room", req.RoomID), zap.String("username", req.Username), zap.String("conn", c.ID))
}

func (r *Relay) leave(c *session.Client) {
	p, ok := r.reg.Find(c.ID)
	if !ok {
		// never joined, or the other termination trigger got here first
		return
	}

	p.Status = models.StatusOffline
	r.hub.Broadcast(p.RoomID, c, models.Frame{Type: models.EventUserDisconnected, Data: models.UserEvent{User: p}})
	metrics.EventRelayed(models.EventUserDisconnected)

	r.reg.Remove(c.ID)
	r.hub.Unsubscribe(p.RoomID, c)

	r.publishPresence(models.EventUserDisconnected, p)
	metrics.SetPopulation(r.reg.Len(), r.reg.RoomCount())
	r.log.Info("participant left",
		zap.String("room", p.RoomID), zap.String("username", p.Username), zap.String("conn", c.ID))
}

func (r *Relay) handleTypingStart(c *session.Client, data json.RawMessage) {
	var ts models.TypingStart
	if err := json.Unmarshal(data, &ts); err != nil {
		r.log.Warn("dropping malformed typing-start", zap.String("conn", c.ID), zap.Error(err))
		metrics.EventDropped("bad-payload")
		return
	}

	p, err := r.reg.Update(c.ID, func(p *models.Participant) {
		p.Typing = true
		p.CursorPosition = ts.CursorPosition
	})
	if err != nil {
		r.dropUnknown(models.EventTypingStart, c.ID)
		return
	}

	r.hub.Broadcast(p.RoomID, c, models.Frame{Type: models.EventTypingStart, Data: models.UserEvent{User: p}})
	metrics.EventRelayed(models.EventTypingStart)
}

func (r *Relay) handleTypingPause(c *session.Client) {
	p, err := r.reg.Update(c.ID, func(p *models.Participant) { p.Typing = false })
	if err != nil {
		r.dropUnknown(models.EventTypingPause, c.ID)
		return
	}

	r.hub.Broadcast(p.RoomID, c, models.Frame{Type: models.EventTypingPause, Data: models.UserEvent{User: p}})
	metrics.EventRelayed(models.EventTypingPause)
}

// handleStatus flips a participant online or offline without removing it.
// The payload may name another participant's connection; an empty field
// means the sender's own.
func (r *Relay) handleStatus(c *session.Client, frame models.RawFrame, status models.Status) {
	var ref models.ConnRef
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &ref); err != nil {
			r.log.Warn("dropping malformed status event", zap.String("type", frame.Type), zap.Error(err))
			metrics.EventDropped("bad-payload")
			return
		}
	}
	connID := ref.ConnectionID
	if connID == "" {
		connID = c.ID
	}

	p, err := r.reg.Update(connID, func(p *models.Participant) { p.Status = status })
	if err != nil {
		r.dropUnknown(frame.Type, connID)
		return
	}

	r.hub.Broadcast(p.RoomID, c, models.Frame{Type: frame.Type, Data: models.ConnRef{ConnectionID: connID}})
	metrics.EventRelayed(frame.Type)
	r.publishPresence(frame.Type, p)
}

// handleChat relays send-message as receive-message, attaching the resolved
// sender record to the opaque message.
func (r *Relay) handleChat(c *session.Client, data json.RawMessage) {
	var msg models.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warn("dropping malformed chat message", zap.String("conn", c.ID), zap.Error(err))
		metrics.EventDropped("bad-payload")
		return
	}
	connID := msg.ConnectionID
	if connID == "" {
		connID = c.ID
	}

	p, ok := r.reg.Find(connID)
	if !ok {
		r.dropUnknown(models.EventSendMessage, connID)
		return
	}

	r.hub.Broadcast(p.RoomID, c, models.Frame{
		Type: models.EventReceiveMessage,
		Data: models.ChatRelay{Message: msg.Message, User: p},
	})
	metrics.EventRelayed(models.EventReceiveMessage)
}

// forward applies a routing-table entry: resolve the room or target, then
// re-emit the payload byte-for-byte.
func (r *Relay) forward(c *session.Client, frame models.RawFrame, rt route) {
	out := models.Frame{Type: frame.Type, Data: frame.Data}

	if rt.policy == singleTarget {
		var ref models.TargetRef
		if err := json.Unmarshal(frame.Data, &ref); err != nil || ref.TargetConnectionID == "" {
			r.log.Warn("dropping event without target", zap.String("type", frame.Type), zap.Error(err))
			metrics.EventDropped("bad-payload")
			return
		}
		if !r.hub.SendTo(ref.TargetConnectionID, out) {
			r.dropUnknown(frame.Type, ref.TargetConnectionID)
			return
		}
		metrics.EventRelayed(frame.Type)
		return
	}

	connID := c.ID
	if rt.source == byConnField {
		var ref models.ConnRef
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &ref); err != nil {
				r.log.Warn("dropping malformed payload", zap.String("type", frame.Type), zap.Error(err))
				metrics.EventDropped("bad-payload")
				return
			}
		}
		if ref.ConnectionID != "" {
			connID = ref.ConnectionID
		}
	}

	p, ok := r.reg.Find(connID)
	if !ok {
		r.dropUnknown(frame.Type, connID)
		return
	}

	var sender *session.Client
	if rt.policy == roomExcludeSender {
		sender = c
	}
	r.hub.Broadcast(p.RoomID, sender, out)
	metrics.EventRelayed(frame.Type)
}

func (r *Relay) dropUnknown(eventType, connID string) {
	r.log.Warn("dropping event for unknown connection",
		zap.String("type", eventType), zap.String("conn", connID))
	metrics.EventDropped("unknown-connection")
}

func (r *Relay) publishPresence(eventType string, p models.Participant) {
	if r.publisher == nil {
		return
	}
	r.publisher.PublishPresence(models.PresenceEvent{
		Type:   eventType,
		RoomID: p.RoomID,
		User:   p,
	})
}
