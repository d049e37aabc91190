package registry

import (
	"errors"

	"codesync/internal/models"
)

var (
	// ErrDuplicateConnection reports an insert for a connection id that is
	// already registered. The later insert wins; the error is a signal for
	// the caller to log the invariant violation.
	ErrDuplicateConnection = errors.New("connection already registered")

	// ErrUnknownConnection reports an operation on a connection id with no
	// record.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Registry is the authoritative in-memory table of connected participants,
// keyed by connection id. Rooms are not materialized: a room is the subset
// of participants sharing a roomId, and it ceases to exist when its last
// participant is removed.
//
// Registry does no locking of its own. The relay serializes every access
// under a single mutex, so each handler's read-modify-write is atomic.
type Registry struct {
	order  []string
	byConn map[string]*models.Participant
}

func New() *Registry {
	return &Registry{byConn: make(map[string]*models.Participant)}
}

// Insert adds a participant record. If the connection id is already present
// the old record is discarded, the new one takes its place at the end of the
// insertion order, and ErrDuplicateConnection is returned.
func (r *Registry) Insert(p models.Participant) error {
	var err error
	if _, exists := r.byConn[p.ConnectionID]; exists {
		r.drop(p.ConnectionID)
		err = ErrDuplicateConnection
	}
	r.order = append(r.order, p.ConnectionID)
	r.byConn[p.ConnectionID] = &p
	return err
}

// Remove deletes the record for a connection. Removing an unknown
// connection is a no-op and reports false.
func (r *Registry) Remove(connID string) bool {
	if _, exists := r.byConn[connID]; !exists {
		return false
	}
	r.drop(connID)
	return true
}

// Find returns a copy of the participant record for a connection.
func (r *Registry) Find(connID string) (models.Participant, bool) {
	p, ok := r.byConn[connID]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// ListByRoom returns the participants of a room in insertion order.
func (r *Registry) ListByRoom(roomID string) []models.Participant {
	out := make([]models.Participant, 0)
	for _, id := range r.order {
		if p := r.byConn[id]; p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	return out
}

// Update applies a targeted partial mutation to one record and returns the
// updated copy.
func (r *Registry) Update(connID string, mutate func(*models.Participant)) (models.Participant, error) {
	p, ok := r.byConn[connID]
	if !ok {
		return models.Participant{}, ErrUnknownConnection
	}
	mutate(p)
	return *p, nil
}

// Len reports the number of registered participants.
func (r *Registry) Len() int { return len(r.byConn) }

// RoomCount reports the number of distinct rooms with at least one
// participant.
func (r *Registry) RoomCount() int {
	rooms := make(map[string]struct{})
	for _, p := range r.byConn {
		rooms[p.RoomID] = struct{}{}
	}
	return len(rooms)
}

func (r *Registry) drop(connID string) {
	delete(r.byConn, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
