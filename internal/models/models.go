package models

import (
	"encoding/json"
	"time"
)

// Status is the connection status of a participant. A participant can be
// marked offline without leaving its room; removal from the room is a
// separate operation.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Participant is a single connected client's presence record within a room.
// ConnectionID is the transport-assigned identifier for the live connection
// and is not stable across reconnects.
type Participant struct {
	ConnectionID   string `json:"connectionId"`
	RoomID         string `json:"roomId"`
	Username       string `json:"username"`
	Status         Status `json:"status"`
	CursorPosition int    `json:"cursorPosition"`
	Typing         bool   `json:"typing"`
	CurrentFile    string `json:"currentFile,omitempty"`
}

/*** Wire protocol ***/

// Frame is the outbound event envelope: one JSON object per message.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// RawFrame is the inbound envelope. Data stays raw so relay-only payloads
// can be forwarded byte-for-byte.
type RawFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event names exposed to clients.
const (
	EventJoinRequest      = "join-request"
	EventUsernameExists   = "username-exists"
	EventJoinAccepted     = "join-accepted"
	EventUserJoined       = "user-joined"
	EventUserDisconnected = "user-disconnected"
	EventDisconnection    = "disconnection"

	EventSyncFileStructure = "sync-file-structure"
	EventDirectoryCreated  = "directory-created"
	EventDirectoryUpdated  = "directory-updated"
	EventDirectoryRenamed  = "directory-renamed"
	EventDirectoryDeleted  = "directory-deleted"
	EventFileCreated       = "file-created"
	EventFileUpdated       = "file-updated"
	EventFileRenamed       = "file-renamed"
	EventFileDeleted       = "file-deleted"

	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"

	EventSendMessage    = "send-message"
	EventReceiveMessage = "receive-message"

	EventTypingStart = "typing-start"
	EventTypingPause = "typing-pause"

	EventRequestDrawing   = "request-drawing"
	EventSyncDrawing      = "sync-drawing"
	EventDrawingUpdate    = "drawing-update"
	EventCodeHighlighting = "code-highlighting"
)

// JoinRequest asks to enter a room under a display name.
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// JoinAccepted is the unicast reply to a successful join. Users is the room
// snapshot taken after insertion, so it includes the joiner.
type JoinAccepted struct {
	User  Participant   `json:"user"`
	Users []Participant `json:"users"`
}

// UserEvent carries a full participant record (user-joined,
// user-disconnected, typing updates).
type UserEvent struct {
	User Participant `json:"user"`
}

// ConnRef addresses an event at a participant by connection id, possibly on
// another participant's behalf.
type ConnRef struct {
	ConnectionID string `json:"connectionId"`
}

// TargetRef names the single connection a snapshot is pushed to.
type TargetRef struct {
	TargetConnectionID string `json:"targetConnectionId"`
}

// TypingStart reports the sender's cursor offset when typing begins.
type TypingStart struct {
	CursorPosition int `json:"cursorPosition"`
}

// ChatMessage is the inbound send-message payload. Message is opaque to the
// relay.
type ChatMessage struct {
	Message      json.RawMessage `json:"message"`
	ConnectionID string          `json:"connectionId"`
}

// ChatRelay is the outbound receive-message payload: the opaque message plus
// the resolved sender record.
type ChatRelay struct {
	Message json.RawMessage `json:"message"`
	User    Participant     `json:"user"`
}

/*** Presence fan-out between relay instances ***/

// PresenceEvent mirrors a local membership or status transition onto the
// shared Redis channel so peer instances can re-broadcast it.
type PresenceEvent struct {
	Type       string      `json:"type"`
	RoomID     string      `json:"roomId"`
	User       Participant `json:"user"`
	InstanceID string      `json:"instanceId"`
	Timestamp  time.Time   `json:"timestamp"`
}

/*** HTTP API ***/

// RoomStatus is the REST view of a room: the participant set in join order.
type RoomStatus struct {
	RoomID           string        `json:"roomId"`
	ParticipantCount int           `json:"participantCount"`
	Participants     []Participant `json:"participants"`
}

type RoomTokenRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type RoomTokenResponse struct {
	Token string `json:"token"`
}
