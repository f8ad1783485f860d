package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrOverlap is returned when the requested slot intersects a
	// non-cancelled appointment of the same doctor.
	ErrOverlap = errors.New("appointment slot already booked")
)

// Repository persists appointments. Create and Update run the slot-conflict
// check and the write in one transaction, serialized per doctor, so two
// concurrent bookings for the same slot cannot both succeed.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
	ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) ([]*Appointment, error)
}
