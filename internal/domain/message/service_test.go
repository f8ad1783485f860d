package message

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/domain/notification"
	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/realtime"
	"github.com/radshare/radshare/internal/platform/respond"
)

// -- Mocks --

type mockRepo struct {
	rows  []*Message
	names map[uuid.UUID]string
	clock time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		names: make(map[uuid.UUID]string),
		clock: time.Now().Truncate(time.Second),
	}
}

func (m *mockRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockRepo) Create(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	msg.CreatedAt = m.tick()
	cp := *msg
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	for _, row := range m.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Thread(_ context.Context, userID, peerID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var thread []*Message
	for _, row := range m.rows {
		if (row.SenderID == userID && row.RecipientID == peerID) ||
			(row.SenderID == peerID && row.RecipientID == userID) {
			cp := *row
			thread = append(thread, &cp)
		}
	}
	sort.Slice(thread, func(i, j int) bool { return thread[i].CreatedAt.After(thread[j].CreatedAt) })
	total := len(thread)
	if offset >= len(thread) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(thread) {
		end = len(thread)
	}
	return thread[offset:end], total, nil
}

func (m *mockRepo) Conversations(_ context.Context, userID uuid.UUID) ([]*Conversation, error) {
	latest := make(map[uuid.UUID]*Message)
	unread := make(map[uuid.UUID]int)
	for _, row := range m.rows {
		var peer uuid.UUID
		switch userID {
		case row.SenderID:
			peer = row.RecipientID
		case row.RecipientID:
			peer = row.SenderID
		default:
			continue
		}
		if last, ok := latest[peer]; !ok || row.CreatedAt.After(last.CreatedAt) {
			cp := *row
			latest[peer] = &cp
		}
		if row.RecipientID == userID && row.ReadAt == nil {
			unread[peer]++
		}
	}

	var out []*Conversation
	for peer, last := range latest {
		out = append(out, &Conversation{
			PeerID:      peer,
			PeerName:    m.names[peer],
			LastMessage: last,
			Unread:      unread[peer],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

func (m *mockRepo) MarkRead(_ context.Context, id uuid.UUID) (time.Time, error) {
	for _, row := range m.rows {
		if row.ID == id {
			if row.ReadAt == nil {
				at := m.tick()
				row.ReadAt = &at
			}
			return *row.ReadAt, nil
		}
	}
	return time.Time{}, ErrNotFound
}

type mockUsers struct {
	users map[uuid.UUID]*user.User
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type mockNotifier struct {
	inputs []notification.CreateInput
}

func (m *mockNotifier) Notify(_ context.Context, in notification.CreateInput) (*notification.Notification, error) {
	m.inputs = append(m.inputs, in)
	return &notification.Notification{ID: uuid.New(), UserID: in.UserID, Type: in.Type}, nil
}

type mockImages struct {
	allowed map[string]map[string]bool
}

func (m *mockImages) CanView(_ context.Context, userID, fileID string) (bool, error) {
	return m.allowed[userID][fileID], nil
}

// -- Test environment --

type testEnv struct {
	svc      *Service
	repo     *mockRepo
	users    *mockUsers
	notifier *mockNotifier
	images   *mockImages
	hub      *realtime.Hub
}

func newTestEnv() *testEnv {
	repo := newMockRepo()
	users := &mockUsers{users: make(map[uuid.UUID]*user.User)}
	notifier := &mockNotifier{}
	images := &mockImages{allowed: make(map[string]map[string]bool)}
	hub := realtime.NewHub(zerolog.Nop())
	svc := NewService(repo, users, notifier, images, hub, zerolog.Nop())
	return &testEnv{svc: svc, repo: repo, users: users, notifier: notifier, images: images, hub: hub}
}

func (env *testEnv) addUser(firstName string) uuid.UUID {
	id := uuid.New()
	env.users.users[id] = &user.User{
		ID:        id,
		Email:     strings.ToLower(firstName) + "@example.com",
		FirstName: firstName,
		LastName:  "Tester",
		Role:      auth.RolePatient,
		IsActive:  true,
	}
	env.repo.names[id] = firstName + " Tester"
	return id
}

func (env *testEnv) allowImage(userID, imageID uuid.UUID) {
	key := userID.String()
	if env.images.allowed[key] == nil {
		env.images.allowed[key] = make(map[string]bool)
	}
	env.images.allowed[key][imageID.String()] = true
}

func (env *testEnv) send(t *testing.T, senderID, recipientID uuid.UUID, body string) *Message {
	t.Helper()
	m, err := env.svc.Send(context.Background(), senderID, SendRequest{
		RecipientID: recipientID,
		Body:        body,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return m
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	appErr, ok := respond.AsAppError(err)
	if !ok || appErr.Status != status {
		t.Fatalf("expected %d AppError, got %v", status, err)
	}
}

func waitEvent(t *testing.T, c *realtime.Client, event string) map[string]interface{} {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case frame := <-c.Send:
			var env struct {
				Event string                 `json:"event"`
				Data  map[string]interface{} `json:"data"`
			}
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			if env.Event == event {
				return env.Data
			}
		case <-deadline:
			t.Fatalf("no %s frame received", event)
			return nil
		}
	}
}

// -- Tests --

func TestSend_OfflineRecipientNotified(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")

	m := env.send(t, alice, bob, "hello there")

	if len(env.repo.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(env.repo.rows))
	}
	if m.SenderID != alice || m.RecipientID != bob || m.ReadAt != nil {
		t.Errorf("unexpected message %+v", m)
	}

	if len(env.notifier.inputs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(env.notifier.inputs))
	}
	in := env.notifier.inputs[0]
	if in.UserID != bob || in.Type != notification.TypeMessage {
		t.Errorf("unexpected notification %+v", in)
	}
	if in.ResourceID != m.ID {
		t.Error("notification must reference the message")
	}
	if !strings.Contains(in.Body, "Alice Tester") {
		t.Errorf("body must name the sender, got %q", in.Body)
	}
}

func TestSend_OnlineRecipientGetsFrame(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")

	client := realtime.NewClient(bob.String(), "Bob Tester", auth.RolePatient)
	env.hub.Register(client)

	m := env.send(t, alice, bob, "you around?")

	data := waitEvent(t, client, realtime.EventChatMessage)
	if data["body"] != "you around?" || data["id"] != m.ID.String() {
		t.Errorf("unexpected frame payload %v", data)
	}

	if len(env.notifier.inputs) != 0 {
		t.Errorf("online recipient must not be notified, got %d", len(env.notifier.inputs))
	}
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")

	carol := env.addUser("Carol")
	env.users.users[carol].IsActive = false

	cases := []struct {
		name   string
		req    SendRequest
		status int
	}{
		{"missing recipient", SendRequest{Body: "hi"}, 400},
		{"empty body", SendRequest{RecipientID: bob}, 400},
		{"blank body", SendRequest{RecipientID: bob, Body: "   "}, 400},
		{"oversized body", SendRequest{RecipientID: bob, Body: strings.Repeat("a", MaxBodyLen+1)}, 400},
		{"self message", SendRequest{RecipientID: alice, Body: "hi"}, 400},
		{"unknown recipient", SendRequest{RecipientID: uuid.New(), Body: "hi"}, 404},
		{"inactive recipient", SendRequest{RecipientID: carol, Body: "hi"}, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Send(context.Background(), alice, tc.req)
			expectStatus(t, err, tc.status)
		})
	}
}

func TestSend_Attachment(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")
	imageID := uuid.New()
	env.allowImage(alice, imageID)

	m, err := env.svc.Send(context.Background(), alice, SendRequest{
		RecipientID: bob,
		Body:        "take a look at this scan",
		ImageID:     &imageID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ImageID == nil || *m.ImageID != imageID {
		t.Error("expected attachment stored")
	}

	otherImage := uuid.New()
	_, err = env.svc.Send(context.Background(), alice, SendRequest{
		RecipientID: bob,
		Body:        "and this one",
		ImageID:     &otherImage,
	})
	expectStatus(t, err, 403)
}

func TestThread(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")
	carol := env.addUser("Carol")

	env.send(t, alice, bob, "first")
	env.send(t, bob, alice, "second")
	env.send(t, alice, carol, "unrelated")
	last := env.send(t, alice, bob, "third")

	thread, total, err := env.svc.Thread(context.Background(), alice, bob, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 messages, got %d", total)
	}
	if thread[0].ID != last.ID {
		t.Error("expected newest first")
	}
	for _, m := range thread {
		if m.SenderID == carol || m.RecipientID == carol {
			t.Error("thread must not leak other conversations")
		}
	}

	page, total, err := env.svc.Thread(context.Background(), alice, bob, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(page) != 1 {
		t.Errorf("expected page of 1/3, got %d/%d", len(page), total)
	}
}

func TestThread_RequiresPeer(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")

	_, _, err := env.svc.Thread(context.Background(), alice, uuid.Nil, 10, 0)
	expectStatus(t, err, 400)
}

func TestConversations(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")
	carol := env.addUser("Carol")

	env.send(t, bob, alice, "ping")
	env.send(t, bob, alice, "ping again")
	env.send(t, alice, carol, "hey carol")

	conversations, err := env.svc.Conversations(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(conversations))
	}

	// carol's conversation is the most recent
	if conversations[0].PeerID != carol || conversations[0].PeerName != "Carol Tester" {
		t.Errorf("unexpected first conversation %+v", conversations[0])
	}
	if conversations[0].Unread != 0 {
		t.Errorf("own outgoing message cannot be unread, got %d", conversations[0].Unread)
	}

	if conversations[1].PeerID != bob || conversations[1].Unread != 2 {
		t.Errorf("expected 2 unread from bob, got %+v", conversations[1])
	}
	if conversations[1].LastMessage == nil || conversations[1].LastMessage.Body != "ping again" {
		t.Error("expected the latest message on the conversation")
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")
	m := env.send(t, alice, bob, "read me")

	got, err := env.svc.MarkRead(context.Background(), bob, m.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ReadAt == nil {
		t.Fatal("expected read_at set")
	}
	first := *got.ReadAt

	again, err := env.svc.MarkRead(context.Background(), bob, m.ID)
	if err != nil {
		t.Fatalf("second mark must succeed: %v", err)
	}
	if again.ReadAt == nil || !again.ReadAt.Equal(first) {
		t.Error("read_at must not change on repeat")
	}
}

func TestMarkRead_SenderForbidden(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")
	bob := env.addUser("Bob")
	m := env.send(t, alice, bob, "read me")

	_, err := env.svc.MarkRead(context.Background(), alice, m.ID)
	expectStatus(t, err, 403)
}

func TestMarkRead_NotFound(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("Alice")

	_, err := env.svc.MarkRead(context.Background(), alice, uuid.New())
	expectStatus(t, err, 404)
}
