package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/domain/notification"
	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/respond"
)

// broadcastPage is the page size used when walking the user base.
const broadcastPage = 500

// UserDirectory is the admin view of the user store.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	Update(ctx context.Context, u *user.User) error
	List(ctx context.Context, f user.Filter, limit, offset int) ([]*user.User, int, error)
}

// Notifier fans out broadcast notifications.
type Notifier interface {
	Notify(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

// Service implements administrative operations: user management, platform
// stats, and broadcasts.
type Service struct {
	users    UserDirectory
	notifier Notifier
	stats    StatsRepository
	logger   zerolog.Logger
}

func NewService(users UserDirectory, notifier Notifier, stats StatsRepository, logger zerolog.Logger) *Service {
	return &Service{users: users, notifier: notifier, stats: stats, logger: logger}
}

// ListUsers searches the user base.
func (s *Service) ListUsers(ctx context.Context, f user.Filter, limit, offset int) ([]*user.User, int, error) {
	if f.Role != "" && !user.ValidRole(f.Role) {
		return nil, 0, respond.BadRequest("unknown role %q", f.Role)
	}
	return s.users.List(ctx, f, limit, offset)
}

// SetRole changes a user's role. Admins cannot change their own role, so a
// deployment always keeps the admin who is making the change.
func (s *Service) SetRole(ctx context.Context, callerID, id uuid.UUID, req RoleRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if id == callerID {
		return nil, respond.BadRequest("cannot change your own role")
	}

	u, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == req.Role {
		return u, nil
	}

	u.Role = req.Role
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.logger.Info().Str("user_id", id.String()).Str("role", req.Role).Msg("role changed")
	return u, nil
}

// SetActive toggles a user's account. Deactivation blocks login and is not
// allowed on the caller's own account.
func (s *Service) SetActive(ctx context.Context, callerID, id uuid.UUID, req ActiveRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if id == callerID && !*req.Active {
		return nil, respond.BadRequest("cannot deactivate your own account")
	}

	u, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsActive == *req.Active {
		return u, nil
	}

	u.IsActive = *req.Active
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update active flag: %w", err)
	}
	s.logger.Info().Str("user_id", id.String()).Bool("active", u.IsActive).Msg("account toggled")
	return u, nil
}

// Broadcast creates a system notification for every active user, or every
// active user of one role. Individual failures are logged and skipped.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	active := true
	f := user.Filter{Role: req.Role, Active: &active}

	sent := 0
	for offset := 0; ; offset += broadcastPage {
		page, total, err := s.users.List(ctx, f, broadcastPage, offset)
		if err != nil {
			return nil, fmt.Errorf("list broadcast recipients: %w", err)
		}
		for _, u := range page {
			_, err := s.notifier.Notify(ctx, notification.CreateInput{
				UserID: u.ID,
				Type:   notification.TypeSystem,
				Title:  req.Title,
				Body:   req.Body,
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("broadcast notification failed")
				continue
			}
			sent++
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	s.logger.Info().Int("sent", sent).Str("role", req.Role).Msg("broadcast complete")
	return &BroadcastResult{Sent: sent}, nil
}

// Overview returns the platform-wide stats snapshot.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	return s.stats.Overview(ctx)
}

func (s *Service) getUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return nil, respond.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
