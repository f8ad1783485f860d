package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repository lookups that match no row.
var ErrNotFound = errors.New("message not found")

// Repository defines the persistence interface for direct messages.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// Thread returns the two-party conversation between userID and peerID,
	// newest first, along with the total count.
	Thread(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// Conversations returns one row per distinct peer of userID, ordered by
	// the latest message, newest conversation first.
	Conversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error)
	// MarkRead stamps read_at if it is still null and returns the stamp,
	// which is the original one when the message was already read.
	MarkRead(ctx context.Context, id uuid.UUID) (time.Time, error)
}
