package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repository lookups that match no row.
var ErrNotFound = errors.New("user not found")

// Repository defines the persistence interface for users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*User, int, error)
	ListProviders(ctx context.Context) ([]*User, error)
}
