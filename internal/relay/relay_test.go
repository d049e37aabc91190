package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codesync/internal/models"
	"codesync/internal/registry"
	"codesync/internal/session"
)

type frameCapture struct {
	frames []models.Frame
}

func (c *frameCapture) hook(frame models.Frame) { c.frames = append(c.frames, frame) }

func (c *frameCapture) byType(eventType string) []models.Frame {
	out := []models.Frame{}
	for _, f := range c.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func newRelay(opts ...Option) *Relay {
	return New(registry.New(), session.NewHub(), zap.NewNop(), opts...)
}

func newPeer(id string) (*session.Client, *frameCapture) {
	c := session.NewClient(id, nil)
	capture := &frameCapture{}
	c.SetSendHook(capture.hook)
	return c, capture
}

func rawFrame(t *testing.T, eventType string, data any) models.RawFrame {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return models.RawFrame{Type: eventType, Data: b}
}

func join(t *testing.T, r *Relay, c *session.Client, roomID, username string) {
	t.Helper()
	r.Dispatch(c, rawFrame(t, models.EventJoinRequest, models.JoinRequest{RoomID: roomID, Username: username}))
}

func TestJoinAcceptedSnapshotIncludesJoiner(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	accepted := capB.byType(models.EventJoinAccepted)
	require.Len(t, accepted, 1)
	payload := accepted[0].Data.(models.JoinAccepted)
	assert.Equal(t, "bob", payload.User.Username)
	assert.Equal(t, models.StatusOnline, payload.User.Status)

	names := []string{}
	for _, p := range payload.Users {
		names = append(names, p.Username)
	}
	assert.Equal(t, []string{"alice", "bob"}, names, "snapshot in join order, joiner included")

	joined := capA.byType(models.EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "bob", joined[0].Data.(models.UserEvent).User.Username)

	assert.Empty(t, capB.byType(models.EventUserJoined), "joiner must not see its own user-joined")
}

func TestJoinDuplicateUsernameRejected(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "alice")

	require.Len(t, capB.byType(models.EventUsernameExists), 1)
	assert.Empty(t, capB.byType(models.EventJoinAccepted))
	assert.Empty(t, capA.byType(models.EventUserJoined), "rejected join must not be announced")

	status, ok := r.RoomStatus("r1")
	require.True(t, ok)
	assert.Equal(t, 1, status.ParticipantCount)
	assert.Equal(t, "a", status.Participants[0].ConnectionID)
}

func TestJoinSameUsernameDifferentRooms(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r2", "alice")

	require.Len(t, capA.byType(models.EventJoinAccepted), 1)
	require.Len(t, capB.byType(models.EventJoinAccepted), 1)
}

func TestRejoinMovesConnectionBetweenRooms(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")
	join(t, r, a, "r2", "alice")

	// the old room hears the departure
	gone := capB.byType(models.EventUserDisconnected)
	require.Len(t, gone, 1)
	left := gone[0].Data.(models.UserEvent).User
	assert.Equal(t, "alice", left.Username)
	assert.Equal(t, models.StatusOffline, left.Status)

	// the record moved with the connection
	r1, ok := r.RoomStatus("r1")
	require.True(t, ok)
	assert.Equal(t, 1, r1.ParticipantCount)
	assert.Equal(t, "bob", r1.Participants[0].Username)
	r2, ok := r.RoomStatus("r2")
	require.True(t, ok)
	assert.Equal(t, "a", r2.Participants[0].ConnectionID)

	// so did the subscription: old-room broadcasts no longer reach it
	r.Dispatch(b, models.RawFrame{Type: models.EventFileUpdated, Data: json.RawMessage(`{"fileId":"f1"}`)})
	assert.Empty(t, capA.byType(models.EventFileUpdated))

	// and its own broadcasts stay inside the new room
	r.Dispatch(a, models.RawFrame{Type: models.EventFileCreated, Data: json.RawMessage(`{"fileId":"f2"}`)})
	assert.Empty(t, capB.byType(models.EventFileCreated))

	// leaving the new room later is not re-announced to the old one
	r.Disconnect(a)
	assert.Len(t, capB.byType(models.EventUserDisconnected), 1)
}

func TestTerminateRemovesAndAnnounces(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	r.Disconnect(a)

	gone := capB.byType(models.EventUserDisconnected)
	require.Len(t, gone, 1)
	left := gone[0].Data.(models.UserEvent).User
	assert.Equal(t, "alice", left.Username)
	assert.Equal(t, models.StatusOffline, left.Status)

	status, ok := r.RoomStatus("r1")
	require.True(t, ok)
	assert.Equal(t, 1, status.ParticipantCount)
	assert.Equal(t, "bob", status.Participants[0].Username)
}

func TestExplicitDisconnectionThenCloseDoesNotDoubleBroadcast(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	r.Dispatch(a, models.RawFrame{Type: models.EventDisconnection})
	r.Disconnect(a) // transport close fires afterwards

	assert.Len(t, capB.byType(models.EventUserDisconnected), 1)
}

func TestLastParticipantLeavingDissolvesRoom(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")

	join(t, r, a, "r1", "alice")
	r.Disconnect(a)

	_, ok := r.RoomStatus("r1")
	assert.False(t, ok)
}

func TestTypingStartAndPause(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	r.Dispatch(a, rawFrame(t, models.EventTypingStart, models.TypingStart{CursorPosition: 42}))

	started := capB.byType(models.EventTypingStart)
	require.Len(t, started, 1)
	typist := started[0].Data.(models.UserEvent).User
	assert.True(t, typist.Typing)
	assert.Equal(t, 42, typist.CursorPosition)
	assert.Equal(t, "alice", typist.Username)
	assert.Empty(t, capA.byType(models.EventTypingStart), "sender must not receive its own typing event")

	r.Dispatch(a, models.RawFrame{Type: models.EventTypingPause})

	paused := capB.byType(models.EventTypingPause)
	require.Len(t, paused, 1)
	typist = paused[0].Data.(models.UserEvent).User
	assert.False(t, typist.Typing)
	assert.Equal(t, 42, typist.CursorPosition, "pause preserves the last reported cursor")
}

func TestStatusEventResolvedViaConnectionID(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	// a reports its own reconnect-driven offline state by id
	r.Dispatch(a, rawFrame(t, models.EventUserOffline, models.ConnRef{ConnectionID: "a"}))

	offline := capB.byType(models.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, models.ConnRef{ConnectionID: "a"}, offline[0].Data)

	// the record is retained, only status flips
	status, ok := r.RoomStatus("r1")
	require.True(t, ok)
	assert.Equal(t, 2, status.ParticipantCount)
	assert.Equal(t, models.StatusOffline, status.Participants[0].Status)

	r.Dispatch(a, rawFrame(t, models.EventUserOnline, models.ConnRef{ConnectionID: "a"}))
	status, _ = r.RoomStatus("r1")
	assert.Equal(t, models.StatusOnline, status.Participants[0].Status)
}

func TestChatRelayRenamesAndAttachesSender(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	msg := json.RawMessage(`{"text":"hello","timestamp":1}`)
	r.Dispatch(a, rawFrame(t, models.EventSendMessage, models.ChatMessage{Message: msg, ConnectionID: "a"}))

	received := capB.byType(models.EventReceiveMessage)
	require.Len(t, received, 1)
	relayed := received[0].Data.(models.ChatRelay)
	assert.JSONEq(t, string(msg), string(relayed.Message))
	assert.Equal(t, "alice", relayed.User.Username)

	assert.Empty(t, capA.byType(models.EventReceiveMessage), "sender must not receive its own chat")
}

func TestRelayedPayloadForwardedUnchanged(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")
	b, capB := newPeer("b")
	c, capC := newPeer("c")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")
	join(t, r, c, "r2", "carol")

	payload := json.RawMessage(`{"fileId":"f1","content":"package main","extra":{"nested":true}}`)
	r.Dispatch(a, models.RawFrame{Type: models.EventFileUpdated, Data: payload})

	got := capB.byType(models.EventFileUpdated)
	require.Len(t, got, 1)
	assert.JSONEq(t, string(payload), string(got[0].Data.(json.RawMessage)))

	assert.Empty(t, capC.byType(models.EventFileUpdated), "other rooms must not receive the broadcast")
}

func TestSyncFileStructureUnicast(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")
	b, capB := newPeer("b")
	c, capC := newPeer("c")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")
	join(t, r, c, "r1", "carol")

	payload := map[string]any{
		"fileStructure":      map[string]any{"id": "root"},
		"openFiles":          []string{"f1"},
		"activeFile":         "f1",
		"targetConnectionId": "b",
	}
	r.Dispatch(a, rawFrame(t, models.EventSyncFileStructure, payload))

	require.Len(t, capB.byType(models.EventSyncFileStructure), 1)
	assert.Empty(t, capC.byType(models.EventSyncFileStructure))
}

func TestUnknownConnectionEventsAreDropped(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")
	ghost, _ := newPeer("ghost")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	// never-joined sender
	r.Dispatch(ghost, models.RawFrame{Type: models.EventFileDeleted, Data: json.RawMessage(`{"fileId":"f1"}`)})
	// reference to a dead connection
	r.Dispatch(a, rawFrame(t, models.EventDrawingUpdate, map[string]string{"connectionId": "gone"}))
	// unicast to a dead target
	r.Dispatch(a, rawFrame(t, models.EventSyncFileStructure, models.TargetRef{TargetConnectionID: "gone"}))
	// typing from an unjoined connection
	r.Dispatch(ghost, rawFrame(t, models.EventTypingStart, models.TypingStart{CursorPosition: 1}))

	assert.Empty(t, capA.byType(models.EventFileDeleted))
	assert.Empty(t, capB.byType(models.EventFileDeleted))
	assert.Empty(t, capB.byType(models.EventDrawingUpdate))

	// the relay stays live for everyone else
	r.Dispatch(a, models.RawFrame{Type: models.EventFileUpdated, Data: json.RawMessage(`{"fileId":"f1"}`)})
	assert.Len(t, capB.byType(models.EventFileUpdated), 1)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	r := newRelay()
	a, _ := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	r.Dispatch(a, models.RawFrame{Type: models.EventJoinRequest, Data: json.RawMessage(`not json`)})
	r.Dispatch(a, models.RawFrame{Type: models.EventTypingStart, Data: json.RawMessage(`"nope"`)})
	r.Dispatch(a, models.RawFrame{Type: "made-up-event", Data: json.RawMessage(`{}`)})

	assert.Empty(t, capB.byType(models.EventTypingStart))
	assert.Empty(t, capB.byType("made-up-event"))
}

func TestDrawingEventsResolvedViaConnField(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	payload := json.RawMessage(`{"drawing":{"shapes":[1,2]},"connectionId":"a"}`)
	r.Dispatch(a, models.RawFrame{Type: models.EventSyncDrawing, Data: payload})

	got := capB.byType(models.EventSyncDrawing)
	require.Len(t, got, 1)
	assert.JSONEq(t, string(payload), string(got[0].Data.(json.RawMessage)))
	assert.Empty(t, capA.byType(models.EventSyncDrawing))
}

type capturePublisher struct {
	events []models.PresenceEvent
}

func (p *capturePublisher) PublishPresence(ev models.PresenceEvent) { p.events = append(p.events, ev) }

func TestPresenceTransitionsArePublished(t *testing.T) {
	pub := &capturePublisher{}
	r := newRelay(WithPresencePublisher(pub))
	a, _ := newPeer("a")

	join(t, r, a, "r1", "alice")
	r.Dispatch(a, rawFrame(t, models.EventUserOffline, models.ConnRef{ConnectionID: "a"}))
	r.Disconnect(a)

	types := []string{}
	for _, ev := range pub.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{models.EventUserJoined, models.EventUserOffline, models.EventUserDisconnected}, types)
	assert.Equal(t, "r1", pub.events[0].RoomID)
	assert.Equal(t, "alice", pub.events[0].User.Username)
}

func TestApplyRemotePresenceReachesWholeRoom(t *testing.T) {
	r := newRelay()
	a, capA := newPeer("a")
	b, capB := newPeer("b")

	join(t, r, a, "r1", "alice")
	join(t, r, b, "r1", "bob")

	r.ApplyRemotePresence(models.PresenceEvent{
		Type:   models.EventUserJoined,
		RoomID: "r1",
		User:   models.Participant{ConnectionID: "remote", RoomID: "r1", Username: "dave", Status: models.StatusOnline},
	})

	// no local sender to exclude: both participants hear it
	require.Len(t, capA.byType(models.EventUserJoined), 2) // bob's join + remote dave
	require.Len(t, capB.byType(models.EventUserJoined), 1)
	assert.Equal(t, "dave", capB.byType(models.EventUserJoined)[0].Data.(models.UserEvent).User.Username)

	// rooms absent on this instance are ignored
	r.ApplyRemotePresence(models.PresenceEvent{Type: models.EventUserJoined, RoomID: "elsewhere"})
}
