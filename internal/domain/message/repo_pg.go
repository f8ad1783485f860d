package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radshare/radshare/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates the Postgres-backed message repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const messageColumns = `id, sender_id, recipient_id, body, image_id, read_at, created_at`

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, body, image_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.SenderID, m.RecipientID, m.Body, m.ImageID,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r *repoPG) Thread(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	where := ` FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+where, userID, peerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+messageColumns+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		userID, peerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}

func (r *repoPG) Conversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH thread AS (
			SELECT m.*,
			       CASE WHEN m.sender_id = $1 THEN m.recipient_id ELSE m.sender_id END AS peer_id
			FROM messages m
			WHERE m.sender_id = $1 OR m.recipient_id = $1
		), last AS (
			SELECT DISTINCT ON (peer_id) *
			FROM thread
			ORDER BY peer_id, created_at DESC
		)
		SELECT l.peer_id,
		       u.first_name || ' ' || u.last_name,
		       l.id, l.sender_id, l.recipient_id, l.body, l.image_id, l.read_at, l.created_at,
		       (SELECT COUNT(*) FROM messages
		        WHERE recipient_id = $1 AND sender_id = l.peer_id AND read_at IS NULL)
		FROM last l
		JOIN users u ON u.id = l.peer_id
		ORDER BY l.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var (
			c Conversation
			m Message
		)
		if err := rows.Scan(&c.PeerID, &c.PeerName,
			&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.ImageID, &m.ReadAt, &m.CreatedAt,
			&c.Unread); err != nil {
			return nil, err
		}
		c.LastMessage = &m
		conversations = append(conversations, &c)
	}
	return conversations, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var readAt time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE messages SET read_at = COALESCE(read_at, now())
		WHERE id = $1
		RETURNING read_at`, id).Scan(&readAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return readAt, err
}

func (r *repoPG) scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.ImageID, &m.ReadAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
