package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHub(opts ...HubOption) *Hub {
	return NewHub(zerolog.Nop(), opts...)
}

func recvEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case msg := <-c.Send:
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Envelope{}
	}
}

func recvEvent(t *testing.T, c *Client, event string) Envelope {
	t.Helper()
	env := recvEnvelope(t, c)
	if env.Event != event {
		t.Fatalf("expected event %s, got %s", event, env.Event)
	}
	return env
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected frame: %s", msg)
	default:
		// expected
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

func viewerList(t *testing.T, env Envelope) []interface{} {
	t.Helper()
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object payload, got %T", env.Data)
	}
	viewers, ok := data["viewers"].([]interface{})
	if !ok {
		t.Fatalf("expected viewers array, got %T", data["viewers"])
	}
	return viewers
}

func TestHub_RegisterAutoJoinsUserAndRoleRooms(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "DOCTOR")

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.RoomSize(UserRoom("user-1")) != 1 {
		t.Fatalf("expected 1 in user room, got %d", hub.RoomSize(UserRoom("user-1")))
	}
	if hub.RoomSize(RoleRoom("DOCTOR")) != 1 {
		t.Fatalf("expected 1 in role room, got %d", hub.RoomSize(RoleRoom("DOCTOR")))
	}
	if !hub.IsOnline("user-1") {
		t.Fatal("expected user-1 to be online")
	}
}

func TestHub_UnregisterRemovesAndClosesSend(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "PATIENT")

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.IsOnline("user-1") {
		t.Fatal("expected user-1 to be offline")
	}
	if hub.RoomSize(UserRoom("user-1")) != 0 {
		t.Fatalf("expected empty user room, got %d", hub.RoomSize(UserRoom("user-1")))
	}

	// Reading from a closed channel returns immediately with ok=false.
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send to be closed after unregister")
	}
}

func TestHub_UnregisterUnknownClientIsNoop(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "PATIENT")

	// Never registered; must not panic or close Send.
	hub.Unregister(client)

	select {
	case _, ok := <-client.Send:
		if !ok {
			t.Fatal("Send should not be closed for an unregistered client")
		}
	default:
		// expected
	}
}

func TestHub_EmitUserReachesEveryConnection(t *testing.T) {
	hub := newTestHub()
	first := NewClient("user-1", "alice@example.com", "PATIENT")
	second := NewClient("user-1", "alice@example.com", "PATIENT")
	other := NewClient("user-2", "bob@example.com", "PATIENT")

	hub.Register(first)
	hub.Register(second)
	hub.Register(other)

	hub.EmitUser("user-1", EventNotification, map[string]string{"message": "hello"})

	for _, c := range []*Client{first, second} {
		env := recvEvent(t, c, EventNotification)
		data := env.Data.(map[string]interface{})
		if data["message"] != "hello" {
			t.Fatalf("expected message hello, got %v", data["message"])
		}
	}
	assertNoFrame(t, other)
}

func TestHub_EmitRole(t *testing.T) {
	hub := newTestHub()
	doctor := NewClient("doc-1", "doc@example.com", "DOCTOR")
	patient := NewClient("pat-1", "pat@example.com", "PATIENT")

	hub.Register(doctor)
	hub.Register(patient)

	hub.EmitRole("DOCTOR", EventUpdate, map[string]string{"message": "rounds"})

	recvEvent(t, doctor, EventUpdate)
	assertNoFrame(t, patient)
}

func TestHub_EmitAll(t *testing.T) {
	hub := newTestHub()
	clients := []*Client{
		NewClient("user-1", "a@example.com", "PATIENT"),
		NewClient("user-2", "b@example.com", "DOCTOR"),
		NewClient("user-3", "c@example.com", "ADMIN"),
	}
	for _, c := range clients {
		hub.Register(c)
	}

	hub.EmitAll(EventUpdate, map[string]string{"message": "maintenance at noon"})

	for _, c := range clients {
		recvEvent(t, c, EventUpdate)
	}
}

func TestHub_SendToTargetsOneConnection(t *testing.T) {
	hub := newTestHub()
	first := NewClient("user-1", "alice@example.com", "PATIENT")
	second := NewClient("user-1", "alice@example.com", "PATIENT")

	hub.Register(first)
	hub.Register(second)

	hub.SendTo(first, EventError, errorPayload{Message: "nope"})

	recvEvent(t, first, EventError)
	assertNoFrame(t, second)
}

func TestHub_SendToUnregisteredClientDoesNotPanic(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "PATIENT")

	hub.SendTo(client, EventError, errorPayload{Message: "nope"})
	assertNoFrame(t, client)
}

func TestHub_JoinFileBroadcastsViewerState(t *testing.T) {
	hub := newTestHub()
	first := NewClient("user-1", "alice@example.com", "DOCTOR")
	second := NewClient("user-2", "bob@example.com", "PATIENT")
	hub.Register(first)
	hub.Register(second)

	anns := hub.JoinFile(first, "file-1", &Cursor{X: 1, Y: 2}, nil)
	if len(anns) != 0 {
		t.Fatalf("expected no annotations in fresh room, got %d", len(anns))
	}

	env := recvEvent(t, first, EventViewerState)
	if got := len(viewerList(t, env)); got != 1 {
		t.Fatalf("expected 1 viewer, got %d", got)
	}

	hub.JoinFile(second, "file-1", nil, nil)

	// Both room members see the updated list.
	for _, c := range []*Client{first, second} {
		env := recvEvent(t, c, EventViewerState)
		if got := len(viewerList(t, env)); got != 2 {
			t.Fatalf("expected 2 viewers, got %d", got)
		}
	}
}

func TestHub_JoinFileReturnsExistingAnnotations(t *testing.T) {
	hub := newTestHub()
	first := NewClient("user-1", "alice@example.com", "DOCTOR")
	second := NewClient("user-2", "bob@example.com", "DOCTOR")
	hub.Register(first)
	hub.Register(second)

	hub.JoinFile(first, "file-1", nil, nil)
	created := hub.CreateAnnotation(first, "file-1", "arrow", json.RawMessage(`{"x":10,"y":20}`), "lesion here")
	if created == nil {
		t.Fatal("expected annotation to be created")
	}

	anns := hub.JoinFile(second, "file-1", nil, nil)
	if len(anns) != 1 {
		t.Fatalf("expected 1 annotation on join, got %d", len(anns))
	}
	if anns[0].ID != created.ID {
		t.Fatalf("expected annotation %s, got %s", created.ID, anns[0].ID)
	}
	if anns[0].Text != "lesion here" {
		t.Fatalf("expected text to survive, got %q", anns[0].Text)
	}
}

func TestHub_LeaveFileRebroadcastsToRemaining(t *testing.T) {
	hub := newTestHub()
	first := NewClient("user-1", "alice@example.com", "DOCTOR")
	second := NewClient("user-2", "bob@example.com", "PATIENT")
	hub.Register(first)
	hub.Register(second)

	hub.JoinFile(first, "file-1", nil, nil)
	hub.JoinFile(second, "file-1", nil, nil)
	drain(first)
	drain(second)

	hub.LeaveFile(second, "file-1")

	env := recvEvent(t, first, EventViewerState)
	viewers := viewerList(t, env)
	if len(viewers) != 1 {
		t.Fatalf("expected 1 viewer after leave, got %d", len(viewers))
	}
	v := viewers[0].(map[string]interface{})
	if v["user_id"] != "user-1" {
		t.Fatalf("expected remaining viewer user-1, got %v", v["user_id"])
	}
	assertNoFrame(t, second)
}

func TestHub_EmptyRoomDropsPresenceAndAnnotations(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "DOCTOR")
	hub.Register(client)

	hub.JoinFile(client, "file-1", nil, nil)
	hub.CreateAnnotation(client, "file-1", "circle", json.RawMessage(`{"r":5}`), "")
	hub.CreateAnnotation(client, "file-1", "text", nil, "check margins")
	drain(client)

	hub.LeaveFile(client, "file-1")

	if hub.RoomSize(FileRoom("file-1")) != 0 {
		t.Fatalf("expected empty room, got %d", hub.RoomSize(FileRoom("file-1")))
	}
	if n := hub.AnnotationCount("file-1"); n != 0 {
		t.Fatalf("expected annotations dropped with room, got %d", n)
	}
	if n := len(hub.Viewers("file-1")); n != 0 {
		t.Fatalf("expected presence dropped with room, got %d viewers", n)
	}
	// No one is left to notify.
	assertNoFrame(t, client)

	// A fresh join sees a clean room.
	anns := hub.JoinFile(client, "file-1", nil, nil)
	if len(anns) != 0 {
		t.Fatalf("expected clean room on rejoin, got %d annotations", len(anns))
	}
}

func TestHub_UnregisterUpdatesFileRooms(t *testing.T) {
	hub := newTestHub()
	first := NewClient("user-1", "alice@example.com", "DOCTOR")
	second := NewClient("user-2", "bob@example.com", "PATIENT")
	hub.Register(first)
	hub.Register(second)

	hub.JoinFile(first, "file-1", nil, nil)
	hub.JoinFile(second, "file-1", nil, nil)
	hub.CreateAnnotation(first, "file-1", "arrow", nil, "")
	drain(first)
	drain(second)

	hub.Unregister(second)

	env := recvEvent(t, first, EventViewerState)
	if got := len(viewerList(t, env)); got != 1 {
		t.Fatalf("expected 1 viewer after disconnect, got %d", got)
	}
	// Room still occupied, annotations survive.
	if n := hub.AnnotationCount("file-1"); n != 1 {
		t.Fatalf("expected annotation to survive, got %d", n)
	}
}

func TestHub_MultiSocketUserKeepsPresenceUntilLastLeaves(t *testing.T) {
	hub := newTestHub()
	laptop := NewClient("user-1", "alice@example.com", "DOCTOR")
	tablet := NewClient("user-1", "alice@example.com", "DOCTOR")
	watcher := NewClient("user-2", "bob@example.com", "DOCTOR")
	hub.Register(laptop)
	hub.Register(tablet)
	hub.Register(watcher)

	hub.JoinFile(laptop, "file-1", nil, nil)
	hub.JoinFile(tablet, "file-1", nil, nil)
	hub.JoinFile(watcher, "file-1", nil, nil)
	drain(laptop)
	drain(tablet)
	drain(watcher)

	// One of the user's two sockets leaves; the user is still viewing.
	hub.LeaveFile(laptop, "file-1")
	env := recvEvent(t, watcher, EventViewerState)
	if got := len(viewerList(t, env)); got != 2 {
		t.Fatalf("expected 2 viewers while tablet remains, got %d", got)
	}
	drain(tablet)

	// Last socket leaves; now the user disappears from the list.
	hub.LeaveFile(tablet, "file-1")
	env = recvEvent(t, watcher, EventViewerState)
	viewers := viewerList(t, env)
	if len(viewers) != 1 {
		t.Fatalf("expected 1 viewer after both sockets left, got %d", len(viewers))
	}
	if v := viewers[0].(map[string]interface{}); v["user_id"] != "user-2" {
		t.Fatalf("expected user-2 to remain, got %v", v["user_id"])
	}
}

func TestHub_UpdateViewerRebroadcasts(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "DOCTOR")
	peer := NewClient("user-2", "bob@example.com", "DOCTOR")
	hub.Register(client)
	hub.Register(peer)

	hub.JoinFile(client, "file-1", nil, nil)
	hub.JoinFile(peer, "file-1", nil, nil)
	drain(client)
	drain(peer)

	hub.UpdateViewer(client, "file-1", &Cursor{X: 42, Y: 7}, &Viewport{Zoom: 2})

	env := recvEvent(t, peer, EventViewerState)
	for _, raw := range viewerList(t, env) {
		v := raw.(map[string]interface{})
		if v["user_id"] != "user-1" {
			continue
		}
		cursor := v["cursor"].(map[string]interface{})
		if cursor["x"] != 42.0 {
			t.Fatalf("expected cursor x 42, got %v", cursor["x"])
		}
		return
	}
	t.Fatal("user-1 missing from viewer list")
}

func TestHub_UpdateViewerIgnoresUnjoinedFile(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "DOCTOR")
	hub.Register(client)

	hub.UpdateViewer(client, "file-9", &Cursor{X: 1}, nil)
	assertNoFrame(t, client)
}

func TestHub_CreateAnnotationRequiresRoomMembership(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "DOCTOR")
	hub.Register(client)

	if ann := hub.CreateAnnotation(client, "file-1", "arrow", nil, ""); ann != nil {
		t.Fatal("expected nil for client outside the room")
	}
	if n := hub.AnnotationCount("file-1"); n != 0 {
		t.Fatalf("expected no annotations, got %d", n)
	}
}

func TestHub_AnnotationLifecycleBroadcasts(t *testing.T) {
	hub := newTestHub()
	author := NewClient("user-1", "alice@example.com", "DOCTOR")
	peer := NewClient("user-2", "bob@example.com", "DOCTOR")
	hub.Register(author)
	hub.Register(peer)

	hub.JoinFile(author, "file-1", nil, nil)
	hub.JoinFile(peer, "file-1", nil, nil)
	drain(author)
	drain(peer)

	created := hub.CreateAnnotation(author, "file-1", "arrow", json.RawMessage(`{"x":1}`), "first pass")
	if created == nil {
		t.Fatal("expected annotation")
	}
	for _, c := range []*Client{author, peer} {
		env := recvEvent(t, c, EventAnnotationCreate)
		data := env.Data.(map[string]interface{})
		if data["id"] != created.ID {
			t.Fatalf("expected id %s, got %v", created.ID, data["id"])
		}
		if data["user_id"] != "user-1" {
			t.Fatalf("expected author user-1, got %v", data["user_id"])
		}
	}

	updated := hub.UpdateAnnotation(peer, "file-1", created.ID, nil, "second opinion")
	if updated == nil {
		t.Fatal("expected updated annotation")
	}
	if updated.Text != "second opinion" {
		t.Fatalf("expected new text, got %q", updated.Text)
	}
	for _, c := range []*Client{author, peer} {
		env := recvEvent(t, c, EventAnnotationUpdate)
		data := env.Data.(map[string]interface{})
		if data["text"] != "second opinion" {
			t.Fatalf("expected updated text in broadcast, got %v", data["text"])
		}
	}

	if !hub.DeleteAnnotation(author, "file-1", created.ID) {
		t.Fatal("expected delete to succeed")
	}
	for _, c := range []*Client{author, peer} {
		env := recvEvent(t, c, EventAnnotationDelete)
		data := env.Data.(map[string]interface{})
		if data["id"] != created.ID {
			t.Fatalf("expected deleted id %s, got %v", created.ID, data["id"])
		}
	}
	if n := hub.AnnotationCount("file-1"); n != 0 {
		t.Fatalf("expected 0 annotations, got %d", n)
	}
}

func TestHub_UpdateAnnotationUnknownIDReturnsNil(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", "alice@example.com", "DOCTOR")
	hub.Register(client)
	hub.JoinFile(client, "file-1", nil, nil)
	drain(client)

	if ann := hub.UpdateAnnotation(client, "file-1", "missing", nil, "x"); ann != nil {
		t.Fatal("expected nil for unknown annotation")
	}
	if hub.DeleteAnnotation(client, "file-1", "missing") {
		t.Fatal("expected delete of unknown annotation to report false")
	}
	assertNoFrame(t, client)
}

func TestHub_FullSendBufferDropsFrame(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "slow-1",
		UserID: "user-1",
		Name:   "alice@example.com",
		Role:   "PATIENT",
		Send:   make(chan []byte, 1),
		rooms:  make(map[string]struct{}),
	}
	hub.Register(client)

	// Second emit must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		hub.EmitUser("user-1", EventUpdate, map[string]string{"n": "1"})
		hub.EmitUser("user-1", EventUpdate, map[string]string{"n": "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full send buffer")
	}

	recvEvent(t, client, EventUpdate)
	assertNoFrame(t, client)
}

func TestHub_EncryptedFramesRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewFrameEncryptor(key)
	if err != nil {
		t.Fatalf("NewFrameEncryptor: %v", err)
	}

	hub := newTestHub(WithEncryption(enc))
	client := NewClient("user-1", "alice@example.com", "DOCTOR")
	hub.Register(client)

	hub.EmitUser("user-1", EventNotification, map[string]string{"message": "secret"})

	select {
	case frame := <-client.Send:
		var wrapped struct {
			Encrypted bool   `json:"encrypted"`
			Payload   string `json:"payload"`
		}
		if err := json.Unmarshal(frame, &wrapped); err != nil {
			t.Fatalf("unmarshal encrypted frame: %v", err)
		}
		if !wrapped.Encrypted || wrapped.Payload == "" {
			t.Fatalf("expected encrypted envelope, got %s", frame)
		}

		plain, err := enc.Decrypt(frame)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		var env Envelope
		if err := json.Unmarshal(plain, &env); err != nil {
			t.Fatalf("unmarshal decrypted frame: %v", err)
		}
		if env.Event != EventNotification {
			t.Fatalf("expected %s, got %s", EventNotification, env.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	const n = 100

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = NewClient("user-1", "alice@example.com", "PATIENT")
	}

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Register(clients[idx])
		}(i)
	}
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Unregister(clients[idx])
		}(i)
	}
	wg.Wait()

	if count := hub.ClientCount(); count < 0 {
		t.Fatalf("client count should not be negative, got %d", count)
	}
}
