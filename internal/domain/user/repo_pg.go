package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radshare/radshare/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates the Postgres-backed user repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const userColumns = `id, email, password_hash, first_name, last_name, role,
	specialty, auth_provider, external_id, avatar_url, is_active,
	last_login_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name, role,
			specialty, auth_provider, external_id, avatar_url, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role,
		u.Specialty, u.AuthProvider, u.ExternalID, u.AvatarURL, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *repoPG) GetByExternalID(ctx context.Context, provider, externalID string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth_provider = $1 AND external_id = $2`,
		provider, externalID))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			email = $2, first_name = $3, last_name = $4, role = $5,
			specialty = $6, auth_provider = $7, external_id = $8,
			avatar_url = $9, is_active = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Role,
		u.Specialty, u.AuthProvider, u.ExternalID, u.AvatarURL, u.IsActive,
	).Scan(&u.UpdatedAt)
}

func (r *repoPG) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*User, int, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM users WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Query != "" {
		clause := fmt.Sprintf(` AND (email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+f.Query+"%")
		idx++
	}
	if f.Role != "" {
		clause := fmt.Sprintf(` AND role = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.Role)
		idx++
	}
	if f.Active != nil {
		clause := fmt.Sprintf(` AND is_active = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, *f.Active)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *repoPG) ListProviders(ctx context.Context) ([]*User, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE role = 'PROVIDER' AND is_active
		 ORDER BY last_name, first_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *repoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.Specialty, &u.AuthProvider, &u.ExternalID, &u.AvatarURL, &u.IsActive,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
