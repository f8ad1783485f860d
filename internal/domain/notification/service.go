package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/mailer"
	"github.com/radshare/radshare/internal/platform/realtime"
	"github.com/radshare/radshare/internal/platform/respond"
)

// UserLookup resolves recipients for email delivery.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Service persists notifications and fans them out over WebSocket and email.
type Service struct {
	repo   Repository
	hub    *realtime.Hub
	mail   *mailer.Mailer
	users  UserLookup
	logger zerolog.Logger
}

func NewService(repo Repository, hub *realtime.Hub, mail *mailer.Mailer, users UserLookup, logger zerolog.Logger) *Service {
	return &Service{repo: repo, hub: hub, mail: mail, users: users, logger: logger}
}

// emailTypes lists notification types that also go out as email.
var emailTypes = map[string]bool{
	TypeAppointment: true,
	TypeShare:       true,
}

// Notify persists the notification, pushes it to the recipient's WebSocket
// room, and sends a templated email for appointment and share types. WS and
// email delivery are best-effort; only persistence failures are returned.
func (s *Service) Notify(ctx context.Context, in CreateInput) (*Notification, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	n := &Notification{
		UserID: in.UserID,
		Type:   in.Type,
		Title:  in.Title,
		Body:   in.Body,
	}
	if in.ResourceID != uuid.Nil {
		rid := in.ResourceID
		n.ResourceID = &rid
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.hub.EmitUser(n.UserID.String(), realtime.EventNotification, n)

	if emailTypes[n.Type] {
		s.sendEmail(ctx, n, in.EmailTemplate, in.EmailData)
	}
	return n, nil
}

func (s *Service) sendEmail(ctx context.Context, n *Notification, template string, data map[string]string) {
	recipient, err := s.users.GetByID(ctx, n.UserID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", n.UserID.String()).Msg("notification email skipped")
		return
	}

	if template == "" {
		template = "notification"
	}
	if data == nil {
		data = map[string]string{
			"name":    recipient.FullName(),
			"message": n.Body,
		}
	}
	if err := s.mail.SendTemplate(ctx, template, data, recipient.Email); err != nil {
		s.logger.Warn().Err(err).Str("template", template).Str("to", recipient.Email).Msg("notification email failed")
	}
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, callerID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByUser(ctx, callerID, unreadOnly, limit, offset)
}

// MarkRead sets read on the caller's notification. Marking an already-read
// notification succeeds without change.
func (s *Service) MarkRead(ctx context.Context, callerID, id uuid.UUID) (*Notification, error) {
	n, err := s.get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	n.Read = true
	return n, nil
}

// MarkAllRead marks every unread notification of the caller and returns the
// number updated.
func (s *Service) MarkAllRead(ctx context.Context, callerID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, callerID)
}

// Delete removes the caller's notification.
func (s *Service) Delete(ctx context.Context, callerID, id uuid.UUID) error {
	if _, err := s.get(ctx, callerID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

func (s *Service) get(ctx context.Context, callerID, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, respond.NotFound("notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if n.UserID != callerID {
		return nil, respond.Forbidden("not your notification")
	}
	return n, nil
}
