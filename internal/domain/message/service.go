package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/domain/notification"
	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/realtime"
	"github.com/radshare/radshare/internal/platform/respond"
)

// UserLookup resolves message counterparts.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Notifier creates notifications for recipients without a live socket.
type Notifier interface {
	Notify(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

// ImageAccess checks whether the sender may attach an image.
type ImageAccess interface {
	CanView(ctx context.Context, userID, fileID string) (bool, error)
}

// Service implements direct messaging between two users.
type Service struct {
	repo     Repository
	users    UserLookup
	notifier Notifier
	images   ImageAccess
	hub      *realtime.Hub
	logger   zerolog.Logger
}

func NewService(repo Repository, users UserLookup, notifier Notifier, images ImageAccess,
	hub *realtime.Hub, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, notifier: notifier, images: images, hub: hub, logger: logger}
}

// Send persists the message and relays it to the recipient's user room. A
// recipient with no live connection gets a notification instead, so the
// message surfaces next time they look.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, req SendRequest) (*Message, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RecipientID == senderID {
		return nil, respond.BadRequest("cannot message yourself")
	}

	recipient, err := s.users.GetByID(ctx, req.RecipientID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, respond.NotFound("recipient not found")
	}
	if err != nil {
		return nil, fmt.Errorf("look up recipient: %w", err)
	}
	if !recipient.IsActive {
		return nil, respond.BadRequest("recipient account is inactive")
	}

	if req.ImageID != nil {
		ok, err := s.images.CanView(ctx, senderID.String(), req.ImageID.String())
		if err != nil {
			return nil, fmt.Errorf("check image access: %w", err)
		}
		if !ok {
			return nil, respond.Forbidden("no access to the attached image")
		}
	}

	m := &Message{
		SenderID:    senderID,
		RecipientID: req.RecipientID,
		Body:        req.Body,
		ImageID:     req.ImageID,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.hub.EmitUser(m.RecipientID.String(), realtime.EventChatMessage, m)

	if !s.hub.IsOnline(m.RecipientID.String()) {
		s.notifyOffline(ctx, m, senderID)
	}
	return m, nil
}

func (s *Service) notifyOffline(ctx context.Context, m *Message, senderID uuid.UUID) {
	senderName := "Someone"
	if sender, err := s.users.GetByID(ctx, senderID); err == nil {
		senderName = sender.FullName()
	}
	_, err := s.notifier.Notify(ctx, notification.CreateInput{
		UserID:     m.RecipientID,
		Type:       notification.TypeMessage,
		Title:      "New message",
		Body:       fmt.Sprintf("%s sent you a message", senderName),
		ResourceID: m.ID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", m.ID.String()).Msg("offline message notification failed")
	}
}

// Thread returns the conversation between the caller and peerID, newest
// first.
func (s *Service) Thread(ctx context.Context, callerID, peerID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if peerID == uuid.Nil {
		return nil, 0, respond.BadRequest("peer_id is required")
	}
	return s.repo.Thread(ctx, callerID, peerID, limit, offset)
}

// Conversations returns the caller's conversation list, most recent first.
func (s *Service) Conversations(ctx context.Context, callerID uuid.UUID) ([]*Conversation, error) {
	return s.repo.Conversations(ctx, callerID)
}

// MarkRead stamps read_at on a message addressed to the caller. Marking an
// already-read message returns it unchanged.
func (s *Service) MarkRead(ctx context.Context, callerID, id uuid.UUID) (*Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, respond.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if m.RecipientID != callerID {
		return nil, respond.Forbidden("only the recipient can mark a message read")
	}
	if m.ReadAt != nil {
		return m, nil
	}

	readAt, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	m.ReadAt = &readAt
	return m, nil
}
