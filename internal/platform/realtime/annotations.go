package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Annotation is one shared markup record on an image, co-edited by the file
// room's viewers. Annotations live only as long as the room: nothing is
// persisted and a reconnecting client receives whatever the room holds now.
type Annotation struct {
	ID        string          `json:"id"`
	FileID    string          `json:"file_id"`
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
	Text      string          `json:"text,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AnnotationStore holds the per-file ordered annotation lists. All methods
// are safe for concurrent use.
type AnnotationStore struct {
	mu    sync.RWMutex
	files map[string][]*Annotation // fileID -> creation-ordered list
}

// NewAnnotationStore returns an empty store.
func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{
		files: make(map[string][]*Annotation),
	}
}

// Create appends a new annotation to the file's list.
func (s *AnnotationStore) Create(fileID, userID, kind string, geometry json.RawMessage, text string) *Annotation {
	now := time.Now().UTC()
	ann := &Annotation{
		ID:        uuid.New().String(),
		FileID:    fileID,
		UserID:    userID,
		Kind:      kind,
		Geometry:  geometry,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.files[fileID] = append(s.files[fileID], ann)
	s.mu.Unlock()

	out := *ann
	return &out
}

// Update replaces an annotation's geometry and/or text in place, keeping its
// position in the list. It returns the updated record, or nil when the
// annotation does not exist.
func (s *AnnotationStore) Update(fileID, id string, geometry json.RawMessage, text string) *Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ann := range s.files[fileID] {
		if ann.ID != id {
			continue
		}
		if geometry != nil {
			ann.Geometry = geometry
		}
		if text != "" {
			ann.Text = text
		}
		ann.UpdatedAt = time.Now().UTC()
		out := *ann
		return &out
	}
	return nil
}

// Delete removes an annotation from the file's list. It reports whether the
// annotation existed.
func (s *AnnotationStore) Delete(fileID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.files[fileID]
	for i, ann := range list {
		if ann.ID != id {
			continue
		}
		s.files[fileID] = append(list[:i], list[i+1:]...)
		if len(s.files[fileID]) == 0 {
			delete(s.files, fileID)
		}
		return true
	}
	return false
}

// List returns a copy of the file's annotations in creation order.
func (s *AnnotationStore) List(fileID string) []*Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.files[fileID]
	out := make([]*Annotation, 0, len(list))
	for _, ann := range list {
		a := *ann
		out = append(out, &a)
	}
	return out
}

// Drop discards every annotation for a file. Called when the file's room
// empties.
func (s *AnnotationStore) Drop(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileID)
}

// Count returns how many annotations a file holds.
func (s *AnnotationStore) Count(fileID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files[fileID])
}
