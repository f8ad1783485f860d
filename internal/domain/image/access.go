package image

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/radshare/radshare/internal/platform/auth"
)

// CanView implements the realtime layer's access check for joining a file
// room: owner, any grantee, or admin. Unknown IDs deny without error.
func (s *Service) CanView(ctx context.Context, userID, fileID string) (bool, error) {
	return s.hasAccess(ctx, userID, fileID, false)
}

// CanAnnotate gates annotation edits in a file room: owner, annotate
// grantee, or admin.
func (s *Service) CanAnnotate(ctx context.Context, userID, fileID string) (bool, error) {
	return s.hasAccess(ctx, userID, fileID, true)
}

func (s *Service) hasAccess(ctx context.Context, userID, fileID string, needAnnotate bool) (bool, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	fid, err := uuid.Parse(fileID)
	if err != nil {
		return false, nil
	}

	img, err := s.repo.GetByID(ctx, fid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if img.OwnerID == uid {
		return true, nil
	}
	if u, err := s.users.GetByID(ctx, uid); err == nil && u.Role == auth.RoleAdmin {
		return true, nil
	}

	sh, err := s.repo.GetShare(ctx, fid, uid)
	if errors.Is(err, ErrShareNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if needAnnotate && sh.Permission != PermissionAnnotate {
		return false, nil
	}
	return true, nil
}
