package image

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radshare/radshare/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates the Postgres-backed image repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const imageColumns = `id, owner_id, file_name, content_type, size, checksum,
	body_type, notes, analysis, analysis_source, created_at, updated_at`

// Create inserts the row under the ID the service assigned before storing
// the blob.
func (r *repoPG) Create(ctx context.Context, img *Image) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO images (
			id, owner_id, file_name, content_type, size, checksum, body_type, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		img.ID, img.OwnerID, img.FileName, img.ContentType, img.Size,
		img.Checksum, img.BodyType, img.Notes,
	).Scan(&img.CreatedAt, &img.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Image, error) {
	return r.scanImage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, img *Image) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE images SET body_type = $2, notes = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		img.ID, img.BodyType, img.Notes,
	).Scan(&img.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) SetAnalysis(ctx context.Context, id uuid.UUID, source string, analysis []byte) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE images SET analysis = $2, analysis_source = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, analysis, source)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row; image_shares rows go with it via ON DELETE CASCADE.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, userID uuid.UUID, filter string, limit, offset int) ([]*Image, int, error) {
	var where string
	switch filter {
	case FilterOwned:
		where = ` WHERE owner_id = $1`
	case FilterShared:
		where = ` WHERE id IN (SELECT image_id FROM image_shares WHERE grantee_id = $1)`
	default:
		where = ` WHERE (owner_id = $1
			OR id IN (SELECT image_id FROM image_shares WHERE grantee_id = $1))`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM images`+where, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+imageColumns+` FROM images`+where+
			` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img, err := r.scanImage(rows)
		if err != nil {
			return nil, 0, err
		}
		images = append(images, img)
	}
	return images, total, rows.Err()
}

const shareColumns = `id, image_id, owner_id, grantee_id, permission, created_at`

func (r *repoPG) CreateShare(ctx context.Context, sh *Share) error {
	sh.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO image_shares (id, image_id, owner_id, grantee_id, permission)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		sh.ID, sh.ImageID, sh.OwnerID, sh.GranteeID, sh.Permission,
	).Scan(&sh.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateShare
	}
	return err
}

func (r *repoPG) GetShare(ctx context.Context, imageID, granteeID uuid.UUID) (*Share, error) {
	return r.scanShare(r.conn(ctx).QueryRow(ctx,
		`SELECT `+shareColumns+` FROM image_shares
		 WHERE image_id = $1 AND grantee_id = $2`,
		imageID, granteeID))
}

func (r *repoPG) DeleteShare(ctx context.Context, imageID, granteeID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM image_shares WHERE image_id = $1 AND grantee_id = $2`,
		imageID, granteeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

func (r *repoPG) ListShares(ctx context.Context, imageID uuid.UUID) ([]*Share, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+shareColumns+` FROM image_shares
		 WHERE image_id = $1 ORDER BY created_at`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		sh, err := r.scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func (r *repoPG) scanImage(row pgx.Row) (*Image, error) {
	var img Image
	err := row.Scan(
		&img.ID, &img.OwnerID, &img.FileName, &img.ContentType, &img.Size,
		&img.Checksum, &img.BodyType, &img.Notes, &img.Analysis,
		&img.AnalysisSource, &img.CreatedAt, &img.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (r *repoPG) scanShare(row pgx.Row) (*Share, error) {
	var sh Share
	err := row.Scan(
		&sh.ID, &sh.ImageID, &sh.OwnerID, &sh.GranteeID, &sh.Permission, &sh.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}
