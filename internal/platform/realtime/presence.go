package realtime

import (
	"sort"
	"sync"
	"time"
)

// Cursor is a viewer's pointer position within the image.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is a viewer's pan/zoom state.
type Viewport struct {
	Zoom    float64 `json:"zoom"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// ViewerState is one user's presence within a file room.
type ViewerState struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// PresenceTracker holds the per-file viewer maps. State is ephemeral: it is
// mutated by join/update/leave/disconnect and dropped when a file's room
// empties. All methods are safe for concurrent use.
type PresenceTracker struct {
	mu    sync.RWMutex
	files map[string]map[string]*ViewerState // fileID -> userID -> state
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		files: make(map[string]map[string]*ViewerState),
	}
}

// Join records a viewer in the file. Re-joining refreshes the cursor and
// viewport but keeps the original join time.
func (t *PresenceTracker) Join(fileID string, state ViewerState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	viewers := t.files[fileID]
	if viewers == nil {
		viewers = make(map[string]*ViewerState)
		t.files[fileID] = viewers
	}

	if existing, ok := viewers[state.UserID]; ok {
		existing.Cursor = state.Cursor
		existing.Viewport = state.Viewport
		return
	}

	s := state
	if s.JoinedAt.IsZero() {
		s.JoinedAt = time.Now().UTC()
	}
	viewers[state.UserID] = &s
}

// Update replaces a viewer's cursor and/or viewport. It reports whether the
// viewer was present.
func (t *PresenceTracker) Update(fileID, userID string, cursor *Cursor, viewport *Viewport) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	viewer, ok := t.files[fileID][userID]
	if !ok {
		return false
	}
	if cursor != nil {
		viewer.Cursor = cursor
	}
	if viewport != nil {
		viewer.Viewport = viewport
	}
	return true
}

// Leave removes a viewer from the file.
func (t *PresenceTracker) Leave(fileID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	viewers, ok := t.files[fileID]
	if !ok {
		return
	}
	delete(viewers, userID)
	if len(viewers) == 0 {
		delete(t.files, fileID)
	}
}

// Drop discards the whole viewer map for a file.
func (t *PresenceTracker) Drop(fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, fileID)
}

// Viewers returns the file's viewer list ordered by join time, so every
// rebroadcast presents viewers in a stable order.
func (t *PresenceTracker) Viewers(fileID string) []ViewerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	viewers := t.files[fileID]
	out := make([]ViewerState, 0, len(viewers))
	for _, v := range viewers {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
