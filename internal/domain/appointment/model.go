package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/radshare/radshare/internal/platform/respond"
)

const (
	StatusScheduled = "SCHEDULED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusNoShow    = "NO_SHOW"
)

const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 480
)

// ValidStatus reports whether s is a known appointment status.
func ValidStatus(s string) bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Back-to-back slots sharing a boundary do not.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	Status    string    `db:"status" json:"status"`
	Reason    string    `db:"reason" json:"reason"`
	Notes     string    `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsParticipant reports whether userID is the patient or the doctor.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

// CreateRequest books a slot with a doctor. End time is derived from the
// duration.
type CreateRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes"`
}

func (r *CreateRequest) Validate(now time.Time) error {
	if r.DoctorID == uuid.Nil {
		return respond.BadRequest("doctor_id is required")
	}
	if r.StartTime.IsZero() {
		return respond.BadRequest("start_time is required")
	}
	if !r.StartTime.After(now) {
		return respond.BadRequest("start_time must be in the future")
	}
	if r.DurationMinutes < MinDurationMinutes || r.DurationMinutes > MaxDurationMinutes {
		return respond.BadRequest("duration_minutes must be between %d and %d",
			MinDurationMinutes, MaxDurationMinutes)
	}
	return nil
}

// End returns the derived end of the requested slot.
func (r *CreateRequest) End() time.Time {
	return r.StartTime.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// UpdateRequest reschedules or edits an appointment. Omitting start_time
// keeps the slot; omitting duration_minutes keeps the current length.
type UpdateRequest struct {
	StartTime       *time.Time `json:"start_time"`
	DurationMinutes *int       `json:"duration_minutes"`
	Reason          *string    `json:"reason"`
	Notes           *string    `json:"notes"`
}

// StatusRequest transitions a scheduled appointment into a terminal state.
type StatusRequest struct {
	Status string `json:"status"`
}

func (r *StatusRequest) Validate() error {
	switch r.Status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return nil
	}
	return respond.BadRequest("status must be %s, %s, or %s",
		StatusCompleted, StatusCancelled, StatusNoShow)
}

// Filter narrows appointment listings. Zero values are skipped.
type Filter struct {
	Status    string
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	From      time.Time
	To        time.Time
}

// Slot is one booked interval in a doctor's day, stripped of patient details.
type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// DaySchedule lists a doctor's booked intervals for one calendar day.
type DaySchedule struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Booked   []Slot    `json:"booked"`
}
