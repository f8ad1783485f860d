package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radshare/radshare/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates the Postgres-backed appointment repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const appointmentColumns = `id, patient_id, doctor_id, start_time, end_time,
	status, reason, notes, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.lockDoctorSchedule(ctx, a.DoctorID); err != nil {
			return err
		}
		taken, err := r.hasOverlap(ctx, a.DoctorID, a.StartTime, a.EndTime, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return ErrOverlap
		}

		err = r.conn(ctx).QueryRow(ctx, `
			INSERT INTO appointments (
				id, patient_id, doctor_id, start_time, end_time, status, reason, notes
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at`,
			a.ID, a.PatientID, a.DoctorID, a.StartTime, a.EndTime, a.Status, a.Reason, a.Notes,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if db.IsExclusionViolation(err) {
			return ErrOverlap
		}
		return err
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.lockDoctorSchedule(ctx, a.DoctorID); err != nil {
			return err
		}
		taken, err := r.hasOverlap(ctx, a.DoctorID, a.StartTime, a.EndTime, a.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrOverlap
		}

		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE appointments SET
				start_time = $2, end_time = $3, reason = $4, notes = $5, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`,
			a.ID, a.StartTime, a.EndTime, a.Reason, a.Notes,
		).Scan(&a.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if db.IsExclusionViolation(err) {
			return ErrOverlap
		}
		return err
	})
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// lockDoctorSchedule takes a transaction-scoped advisory lock keyed on the
// doctor id, serializing the conflict-check-then-write sequence per doctor.
// Released automatically at commit or rollback.
func (r *repoPG) lockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID)
	if err != nil {
		return fmt.Errorf("lock doctor schedule: %w", err)
	}
	return nil
}

// hasOverlap checks [start,end) against the doctor's non-cancelled
// appointments. Adjacent slots sharing a boundary instant do not conflict.
func (r *repoPG) hasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'CANCELLED'
		  AND start_time < $3
		  AND end_time > $2`
	args := []interface{}{doctorID, start, end}
	if exclude != uuid.Nil {
		query += ` AND id <> $4`
		args = append(args, exclude)
	}
	query += `)`

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check slot conflict: %w", err)
	}
	return exists, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointments WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		clause := fmt.Sprintf(` AND status = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.Status)
		idx++
	}
	if f.PatientID != uuid.Nil {
		clause := fmt.Sprintf(` AND patient_id = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.PatientID)
		idx++
	}
	if f.DoctorID != uuid.Nil {
		clause := fmt.Sprintf(` AND doctor_id = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.DoctorID)
		idx++
	}
	if !f.From.IsZero() {
		clause := fmt.Sprintf(` AND end_time > $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		clause := fmt.Sprintf(` AND start_time < $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY start_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var appointments []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		appointments = append(appointments, a)
	}
	return appointments, total, rows.Err()
}

func (r *repoPG) ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE doctor_id = $1
		   AND status <> 'CANCELLED'
		   AND start_time < $3
		   AND end_time > $2
		 ORDER BY start_time`,
		doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

func (r *repoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.EndTime,
		&a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
