package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/domain/notification"
	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/realtime"
	"github.com/radshare/radshare/internal/platform/respond"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = "15:04"
)

// UserLookup resolves booking participants.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Notifier delivers booking notifications to participants.
type Notifier interface {
	Notify(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

// Service implements booking, rescheduling, and status transitions.
type Service struct {
	repo     Repository
	users    UserLookup
	notifier Notifier
	hub      *realtime.Hub
	logger   zerolog.Logger
}

func NewService(repo Repository, users UserLookup, notifier Notifier, hub *realtime.Hub, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, notifier: notifier, hub: hub, logger: logger}
}

// emitUpdate pings admin dashboards that the appointment book changed.
func (s *Service) emitUpdate() {
	s.hub.EmitRole(auth.RoleAdmin, realtime.EventUpdate, map[string]string{"resource": "appointments"})
}

// Book creates a SCHEDULED appointment for the caller with the given doctor.
// The slot is rejected with 409 when it overlaps any non-cancelled
// appointment of that doctor.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, req CreateRequest) (*Appointment, error) {
	if err := req.Validate(time.Now()); err != nil {
		return nil, err
	}
	if req.DoctorID == patientID {
		return nil, respond.BadRequest("cannot book an appointment with yourself")
	}

	doctor, err := s.doctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsActive {
		return nil, respond.BadRequest("doctor account is inactive")
	}

	a := &Appointment{
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		StartTime: req.StartTime,
		EndTime:   req.End(),
		Status:    StatusScheduled,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrOverlap) {
			return nil, respond.Conflict("the requested slot is already booked")
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.notifyBooked(ctx, a, doctor)
	s.emitUpdate()
	return a, nil
}

// Reschedule edits a SCHEDULED appointment. A new start keeps the current
// length unless duration_minutes is also given; the conflict check skips the
// appointment's own row.
func (s *Service) Reschedule(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID, req UpdateRequest) (*Appointment, error) {
	a, err := s.getAuthorized(ctx, callerID, callerRole, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled {
		return nil, respond.Conflict("only scheduled appointments can be changed")
	}

	start, duration := a.StartTime, a.EndTime.Sub(a.StartTime)
	if req.StartTime != nil {
		if !req.StartTime.After(time.Now()) {
			return nil, respond.BadRequest("start_time must be in the future")
		}
		start = *req.StartTime
	}
	if req.DurationMinutes != nil {
		if *req.DurationMinutes < MinDurationMinutes || *req.DurationMinutes > MaxDurationMinutes {
			return nil, respond.BadRequest("duration_minutes must be between %d and %d",
				MinDurationMinutes, MaxDurationMinutes)
		}
		duration = time.Duration(*req.DurationMinutes) * time.Minute
	}
	a.StartTime = start
	a.EndTime = start.Add(duration)
	if req.Reason != nil {
		a.Reason = *req.Reason
	}
	if req.Notes != nil {
		a.Notes = *req.Notes
	}

	if err := s.repo.Update(ctx, a); err != nil {
		switch {
		case errors.Is(err, ErrOverlap):
			return nil, respond.Conflict("the requested slot is already booked")
		case errors.Is(err, ErrNotFound):
			return nil, respond.NotFound("appointment not found")
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	s.emitUpdate()
	return a, nil
}

// UpdateStatus moves a SCHEDULED appointment into a terminal state. Doctors
// and admins may pick any; patients may only cancel. Cancellation notifies
// the other participants.
func (s *Service) UpdateStatus(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID, req StatusRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := s.getAuthorized(ctx, callerID, callerRole, id)
	if err != nil {
		return nil, err
	}

	actsAsPatient := callerRole != auth.RoleAdmin && callerID == a.PatientID && callerID != a.DoctorID
	if actsAsPatient && req.Status != StatusCancelled {
		return nil, respond.Forbidden("patients may only cancel appointments")
	}
	if a.Status != StatusScheduled {
		return nil, respond.Conflict("appointment is already %s", a.Status)
	}

	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, respond.NotFound("appointment not found")
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	a.Status = req.Status

	if req.Status == StatusCancelled {
		s.notifyCancelled(ctx, a, callerID)
	}
	s.emitUpdate()
	return a, nil
}

// Get returns the appointment to a participant or an admin.
func (s *Service) Get(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Appointment, error) {
	return s.getAuthorized(ctx, callerID, callerRole, id)
}

// List returns appointments scoped to the caller: patients see their own,
// doctors their schedule, admins everything.
func (s *Service) List(ctx context.Context, callerID uuid.UUID, callerRole string, f Filter, limit, offset int) ([]*Appointment, int, error) {
	switch callerRole {
	case auth.RoleAdmin:
	case auth.RoleProvider:
		f.DoctorID = callerID
	default:
		f.PatientID = callerID
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Availability returns the doctor's booked intervals for one calendar day
// (UTC), cancelled slots excluded, so clients can render the free slots.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date string) (*DaySchedule, error) {
	day, err := time.Parse(dateFormat, date)
	if err != nil {
		return nil, respond.BadRequest("date must be formatted YYYY-MM-DD")
	}
	if _, err := s.doctor(ctx, doctorID); err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListForDoctorDay(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list doctor day: %w", err)
	}

	schedule := &DaySchedule{
		DoctorID: doctorID,
		Date:     date,
		Booked:   make([]Slot, 0, len(appointments)),
	}
	for _, a := range appointments {
		schedule.Booked = append(schedule.Booked, Slot{StartTime: a.StartTime, EndTime: a.EndTime})
	}
	return schedule, nil
}

func (s *Service) doctor(ctx context.Context, id uuid.UUID) (*user.User, error) {
	doctor, err := s.users.GetByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return nil, respond.NotFound("doctor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("look up doctor: %w", err)
	}
	if !doctor.IsProvider() {
		return nil, respond.BadRequest("selected user is not a doctor")
	}
	return doctor, nil
}

func (s *Service) getAuthorized(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, respond.NotFound("appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if callerRole != auth.RoleAdmin && !a.IsParticipant(callerID) {
		return nil, respond.Forbidden("not your appointment")
	}
	return a, nil
}

func (s *Service) notifyBooked(ctx context.Context, a *Appointment, doctor *user.User) {
	patientName := "A patient"
	if patient, err := s.users.GetByID(ctx, a.PatientID); err == nil {
		patientName = patient.FullName()
	}

	_, err := s.notifier.Notify(ctx, notification.CreateInput{
		UserID: a.DoctorID,
		Type:   notification.TypeAppointment,
		Title:  "New appointment booked",
		Body: fmt.Sprintf("%s booked an appointment on %s at %s", patientName,
			a.StartTime.Format(dateFormat), a.StartTime.Format(timeFormat)),
		ResourceID:    a.ID,
		EmailTemplate: "appointment-booked",
		EmailData: map[string]string{
			"patient_name": patientName,
			"doctor_name":  doctor.FullName(),
			"date":         a.StartTime.Format(dateFormat),
			"start":        a.StartTime.Format(timeFormat),
			"end":          a.EndTime.Format(timeFormat),
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("booking notification failed")
	}
}

// notifyCancelled notifies every participant other than the actor, so an
// admin cancellation reaches both sides.
func (s *Service) notifyCancelled(ctx context.Context, a *Appointment, actorID uuid.UUID) {
	var recipients []uuid.UUID
	if a.PatientID != actorID {
		recipients = append(recipients, a.PatientID)
	}
	if a.DoctorID != actorID {
		recipients = append(recipients, a.DoctorID)
	}

	for _, recipientID := range recipients {
		var name string
		if u, err := s.users.GetByID(ctx, recipientID); err == nil {
			name = u.FullName()
		}
		_, err := s.notifier.Notify(ctx, notification.CreateInput{
			UserID: recipientID,
			Type:   notification.TypeAppointment,
			Title:  "Appointment cancelled",
			Body: fmt.Sprintf("Your appointment on %s at %s was cancelled",
				a.StartTime.Format(dateFormat), a.StartTime.Format(timeFormat)),
			ResourceID:    a.ID,
			EmailTemplate: "appointment-cancelled",
			EmailData: map[string]string{
				"name":  name,
				"date":  a.StartTime.Format(dateFormat),
				"start": a.StartTime.Format(timeFormat),
				"end":   a.EndTime.Format(timeFormat),
			},
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("cancellation notification failed")
		}
	}
}
