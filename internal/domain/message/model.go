package message

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radshare/radshare/internal/platform/respond"
)

// MaxBodyLen caps the message body; longer texts belong in an attachment.
const MaxBodyLen = 4000

// Message maps to the messages table. ReadAt is nil until the recipient
// marks the message read.
type Message struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	SenderID    uuid.UUID  `db:"sender_id" json:"sender_id"`
	RecipientID uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Body        string     `db:"body" json:"body"`
	ImageID     *uuid.UUID `db:"image_id" json:"image_id,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Conversation is one row of the conversation list: the peer, the latest
// message either way, and how many of their messages are still unread.
type Conversation struct {
	PeerID      uuid.UUID `json:"peer_id"`
	PeerName    string    `json:"peer_name"`
	LastMessage *Message  `json:"last_message"`
	Unread      int       `json:"unread"`
}

// SendRequest is the POST /messages body. ImageID optionally attaches an
// image the sender has access to.
type SendRequest struct {
	RecipientID uuid.UUID  `json:"recipient_id"`
	Body        string     `json:"body"`
	ImageID     *uuid.UUID `json:"image_id"`
}

// Normalize trims the body.
func (r *SendRequest) Normalize() {
	r.Body = strings.TrimSpace(r.Body)
}

// Validate checks the request after Normalize.
func (r SendRequest) Validate() error {
	if r.RecipientID == uuid.Nil {
		return respond.BadRequest("recipient_id is required")
	}
	if r.Body == "" {
		return respond.BadRequest("message body is required")
	}
	if len(r.Body) > MaxBodyLen {
		return respond.BadRequest("message body exceeds %d characters", MaxBodyLen)
	}
	if r.ImageID != nil && *r.ImageID == uuid.Nil {
		return respond.BadRequest("image_id must be a valid id")
	}
	return nil
}
