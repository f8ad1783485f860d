package image

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("image not found")
	ErrShareNotFound  = errors.New("share not found")
	ErrDuplicateShare = errors.New("image already shared with user")
)

// Repository persists image metadata and share grants. Blob content lives in
// the blobstore, keyed by image ID.
type Repository interface {
	Create(ctx context.Context, img *Image) error
	GetByID(ctx context.Context, id uuid.UUID) (*Image, error)
	Update(ctx context.Context, img *Image) error
	SetAnalysis(ctx context.Context, id uuid.UUID, source string, analysis []byte) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, filter string, limit, offset int) ([]*Image, int, error)

	CreateShare(ctx context.Context, sh *Share) error
	GetShare(ctx context.Context, imageID, granteeID uuid.UUID) (*Share, error)
	DeleteShare(ctx context.Context, imageID, granteeID uuid.UUID) error
	ListShares(ctx context.Context, imageID uuid.UUID) ([]*Share, error)
}
