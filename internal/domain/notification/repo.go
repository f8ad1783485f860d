package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repository lookups that match no row.
var ErrNotFound = errors.New("notification not found")

// Repository defines the persistence interface for notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
