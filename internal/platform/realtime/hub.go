// Package realtime carries the WebSocket layer: a hub of authenticated
// connections organized into rooms (per-user, per-role, per-file), a per-file
// presence tracker, and a per-file in-memory annotation store co-edited by a
// file room's viewers. State lives in process memory only; nothing survives a
// restart and there is no cross-instance fan-out.
package realtime

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sendBufferSize = 256

// Client is one live WebSocket connection. A user may hold several. Send is
// the outbound frame buffer; the hub drops frames for a client whose buffer
// is full rather than blocking the broadcast.
type Client struct {
	ID     string
	UserID string
	Name   string
	Role   string
	Send   chan []byte

	rooms map[string]struct{} // guarded by the hub mutex
}

// NewClient builds a client for an authenticated user.
func NewClient(userID, name, role string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Name:   name,
		Role:   role,
		Send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[string]struct{}),
	}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithEncryption makes the hub encrypt every outbound frame and decrypt
// inbound frames that carry the encrypted envelope.
func WithEncryption(enc *FrameEncryptor) HubOption {
	return func(h *Hub) { h.crypto = enc }
}

// Hub is the central connection manager. All membership state is guarded by
// one RWMutex; frame delivery happens under the read lock so a concurrent
// Unregister (which closes the client's Send channel under the write lock)
// can never race a send.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{} // room -> members
	users map[string]map[*Client]struct{} // userID -> connections

	presence    *PresenceTracker
	annotations *AnnotationStore
	crypto      *FrameEncryptor
	logger      zerolog.Logger
}

// NewHub creates a Hub ready to accept clients.
func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		users:       make(map[string]map[*Client]struct{}),
		presence:    NewPresenceTracker(),
		annotations: NewAnnotationStore(),
		logger:      logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds a connection and auto-joins its user and role rooms.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[client.UserID] == nil {
		h.users[client.UserID] = make(map[*Client]struct{})
	}
	h.users[client.UserID][client] = struct{}{}

	for _, room := range []string{UserRoom(client.UserID), RoleRoom(client.Role)} {
		h.joinRoomLocked(client, room)
	}
}

// Unregister removes a connection from every room, updates presence for each
// file room it was in, and closes its Send channel. File rooms left empty
// drop their presence map and annotation list.
func (h *Hub) Unregister(client *Client) {
	type departure struct {
		fileID   string
		emptied  bool
		userGone bool
	}

	h.mu.Lock()
	conns, ok := h.users[client.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, in := conns[client]; !in {
		h.mu.Unlock()
		return
	}

	var departures []departure
	for room := range client.rooms {
		members := h.rooms[room]
		delete(members, client)
		emptied := len(members) == 0
		if emptied {
			delete(h.rooms, room)
		}
		if strings.HasPrefix(room, "file:") {
			fileID := strings.TrimPrefix(room, "file:")
			departures = append(departures, departure{
				fileID:   fileID,
				emptied:  emptied,
				userGone: emptied || !h.userInRoomLocked(room, client.UserID),
			})
		}
	}

	delete(conns, client)
	if len(conns) == 0 {
		delete(h.users, client.UserID)
	}
	close(client.Send)
	h.mu.Unlock()

	for _, d := range departures {
		if d.emptied {
			h.presence.Drop(d.fileID)
			h.annotations.Drop(d.fileID)
			continue
		}
		if d.userGone {
			h.presence.Leave(d.fileID, client.UserID)
		}
		h.broadcastViewers(d.fileID)
	}
}

// JoinFile places the connection in the file's room, records presence, and
// rebroadcasts the viewer list. It returns the file's current annotations so
// the caller can sync them to the joining client.
func (h *Hub) JoinFile(client *Client, fileID string, cursor *Cursor, viewport *Viewport) []*Annotation {
	h.mu.Lock()
	h.joinRoomLocked(client, FileRoom(fileID))
	h.mu.Unlock()

	h.presence.Join(fileID, ViewerState{
		UserID:   client.UserID,
		Name:     client.Name,
		Cursor:   cursor,
		Viewport: viewport,
	})

	h.broadcastViewers(fileID)
	return h.annotations.List(fileID)
}

// LeaveFile removes the connection from the file's room. When the user has no
// other connection in the room their presence entry goes too; when the room
// empties its presence and annotations are dropped.
func (h *Hub) LeaveFile(client *Client, fileID string) {
	room := FileRoom(fileID)

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, in := members[client]; !in {
		h.mu.Unlock()
		return
	}
	delete(members, client)
	delete(client.rooms, room)
	emptied := len(members) == 0
	if emptied {
		delete(h.rooms, room)
	}
	userGone := emptied || !h.userInRoomLocked(room, client.UserID)
	h.mu.Unlock()

	if emptied {
		h.presence.Drop(fileID)
		h.annotations.Drop(fileID)
		return
	}
	if userGone {
		h.presence.Leave(fileID, client.UserID)
	}
	h.broadcastViewers(fileID)
}

// UpdateViewer refreshes a viewer's cursor/viewport and rebroadcasts the
// viewer list. Updates for files the client never joined are ignored.
func (h *Hub) UpdateViewer(client *Client, fileID string, cursor *Cursor, viewport *Viewport) {
	if !h.inRoom(client, FileRoom(fileID)) {
		return
	}
	if !h.presence.Update(fileID, client.UserID, cursor, viewport) {
		return
	}
	h.broadcastViewers(fileID)
}

// CreateAnnotation appends an annotation and broadcasts it to the file room.
// The client must be in the room; nil is returned otherwise.
func (h *Hub) CreateAnnotation(client *Client, fileID, kind string, geometry json.RawMessage, text string) *Annotation {
	if !h.inRoom(client, FileRoom(fileID)) {
		return nil
	}
	ann := h.annotations.Create(fileID, client.UserID, kind, geometry, text)
	h.EmitFile(fileID, EventAnnotationCreate, ann)
	return ann
}

// UpdateAnnotation edits an annotation in place and broadcasts the result.
func (h *Hub) UpdateAnnotation(client *Client, fileID, id string, geometry json.RawMessage, text string) *Annotation {
	if !h.inRoom(client, FileRoom(fileID)) {
		return nil
	}
	ann := h.annotations.Update(fileID, id, geometry, text)
	if ann == nil {
		return nil
	}
	h.EmitFile(fileID, EventAnnotationUpdate, ann)
	return ann
}

// DeleteAnnotation removes an annotation and broadcasts the deletion.
func (h *Hub) DeleteAnnotation(client *Client, fileID, id string) bool {
	if !h.inRoom(client, FileRoom(fileID)) {
		return false
	}
	if !h.annotations.Delete(fileID, id) {
		return false
	}
	h.EmitFile(fileID, EventAnnotationDelete, annotationPayload{ID: id, FileID: fileID})
	return true
}

// EmitUser sends an event to every connection of one user.
func (h *Hub) EmitUser(userID, event string, data interface{}) {
	h.emitRoom(UserRoom(userID), event, data)
}

// EmitRole sends an event to every connection of users with the given role.
func (h *Hub) EmitRole(role, event string, data interface{}) {
	h.emitRoom(RoleRoom(role), event, data)
}

// EmitFile sends an event to the file room.
func (h *Hub) EmitFile(fileID, event string, data interface{}) {
	h.emitRoom(FileRoom(fileID), event, data)
}

// EmitAll sends an event to every connected client.
func (h *Hub) EmitAll(event string, data interface{}) {
	frame, err := h.encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.users {
		for client := range conns {
			h.deliverLocked(client, frame)
		}
	}
}

// SendTo sends an event to a single connection.
func (h *Hub) SendTo(client *Client, event string, data interface{}) {
	frame, err := h.encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.users[client.UserID]; ok {
		if _, in := conns[client]; in {
			h.deliverLocked(client, frame)
		}
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.users {
		n += len(conns)
	}
	return n
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// AnnotationCount returns how many annotations a file currently holds.
func (h *Hub) AnnotationCount(fileID string) int {
	return h.annotations.Count(fileID)
}

// Viewers returns the current viewer list for a file.
func (h *Hub) Viewers(fileID string) []ViewerState {
	return h.presence.Viewers(fileID)
}

func (h *Hub) joinRoomLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) userInRoomLocked(room, userID string) bool {
	for c := range h.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) inRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][client]
	return ok
}

type viewerStatePayload struct {
	FileID  string        `json:"file_id"`
	Viewers []ViewerState `json:"viewers"`
}

func (h *Hub) broadcastViewers(fileID string) {
	h.EmitFile(fileID, EventViewerState, viewerStatePayload{
		FileID:  fileID,
		Viewers: h.presence.Viewers(fileID),
	})
}

func (h *Hub) emitRoom(room, event string, data interface{}) {
	frame, err := h.encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[room] {
		h.deliverLocked(client, frame)
	}
}

// deliverLocked queues a frame without blocking; a client that cannot keep up
// loses the frame. Callers hold at least the read lock.
func (h *Hub) deliverLocked(client *Client, frame []byte) {
	select {
	case client.Send <- frame:
	default:
		h.logger.Debug().
			Str("client_id", client.ID).
			Str("user_id", client.UserID).
			Msg("send buffer full, dropping frame")
	}
}

// encode marshals the event envelope and encrypts it when the hub carries a
// frame encryptor.
func (h *Hub) encode(event string, data interface{}) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, err
	}
	if h.crypto != nil {
		return h.crypto.Encrypt(frame)
	}
	return frame, nil
}

// decode reverses encode for inbound frames; plaintext frames pass through
// untouched.
func (h *Hub) decode(raw []byte) ([]byte, error) {
	if h.crypto != nil {
		return h.crypto.Decrypt(raw)
	}
	return raw, nil
}
