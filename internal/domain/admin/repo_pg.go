package admin

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radshare/radshare/internal/platform/db"
)

type statsPG struct {
	pool *pgxpool.Pool
}

// NewStatsRepo creates the Postgres-backed stats repository.
func NewStatsRepo(pool *pgxpool.Pool) StatsRepository {
	return &statsPG{pool: pool}
}

func (r *statsPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *statsPG) Overview(ctx context.Context) (*Overview, error) {
	o := &Overview{
		Users:        UserStats{ByRole: make(map[string]int64)},
		Appointments: AppointmentStats{ByStatus: make(map[string]int64)},
	}

	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM users`).Scan(&o.Users.Total, &o.Users.Active); err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			role  string
			count int64
		)
		if err := rows.Scan(&role, &count); err != nil {
			return nil, err
		}
		o.Users.ByRole[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM appointments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		o.Appointments.ByStatus[status] = count
		o.Appointments.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&o.Images); err != nil {
		return nil, err
	}
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&o.Messages); err != nil {
		return nil, err
	}
	return o, nil
}
