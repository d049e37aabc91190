package session

import (
	"sync"

	"codesync/internal/models"
)

// Hub provides the transport's room primitives: subscribe/unsubscribe, room
// multicast and per-connection unicast. It knows nothing about presence
// state; the relay decides who a frame goes to.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	byID  map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		byID:  make(map[string]*Client),
	}
}

// Subscribe adds a client to a room's multicast group.
func (h *Hub) Subscribe(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rooms[roomID]
	if !ok {
		rs = make(map[*Client]struct{})
		h.rooms[roomID] = rs
	}
	rs[c] = struct{}{}
	h.byID[c.ID] = c
}

// Unsubscribe removes a client from a room's multicast group. The room map
// entry is dropped with its last subscriber.
func (h *Hub) Unsubscribe(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs, ok := h.rooms[roomID]; ok {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(h.byID, c.ID)
}

// Broadcast sends a frame to every subscriber of a room except sender. A
// nil sender reaches the whole room.
func (h *Hub) Broadcast(roomID string, sender *Client, frame models.Frame) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c == sender {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(frame)
	}
}

// SendTo delivers a frame to a single subscribed connection. It reports
// false when the connection is not subscribed anywhere.
func (h *Hub) SendTo(connID string, frame models.Frame) bool {
	h.mu.RLock()
	c, ok := h.byID[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.Send(frame)
	return true
}

// RoomSize reports the number of subscribers in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
