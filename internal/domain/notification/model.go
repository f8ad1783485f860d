package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/radshare/radshare/internal/platform/respond"
)

// Notification types stored in notifications.type.
const (
	TypeAppointment = "appointment"
	TypeMessage     = "message"
	TypeShare       = "share"
	TypeAnalysis    = "analysis"
	TypeSystem      = "system"
)

// ValidType reports whether t is a known notification type.
func ValidType(t string) bool {
	switch t {
	case TypeAppointment, TypeMessage, TypeShare, TypeAnalysis, TypeSystem:
		return true
	}
	return false
}

// Notification maps to the notifications table.
type Notification struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Type       string     `db:"type" json:"type"`
	Title      string     `db:"title" json:"title"`
	Body       string     `db:"body" json:"body"`
	ResourceID *uuid.UUID `db:"resource_id" json:"resource_id,omitempty"`
	Read       bool       `db:"read" json:"read"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// CreateInput describes a notification to fan out. ResourceID is optional
// (uuid.Nil stores NULL). EmailTemplate/EmailData choose the mailer template
// for types that send email; left empty, the generic "notification" template
// is used with the recipient's name and the body.
type CreateInput struct {
	UserID        uuid.UUID
	Type          string
	Title         string
	Body          string
	ResourceID    uuid.UUID
	EmailTemplate string
	EmailData     map[string]string
}

// Validate checks the input before fan-out.
func (in CreateInput) Validate() error {
	if in.UserID == uuid.Nil {
		return respond.BadRequest("notification recipient is required")
	}
	if !ValidType(in.Type) {
		return respond.BadRequest("unknown notification type %q", in.Type)
	}
	if in.Title == "" {
		return respond.BadRequest("notification title is required")
	}
	return nil
}
