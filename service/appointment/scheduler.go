package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/service/availability"
	"github.com/KAsare1/teleconsult-server/service/chats"
	"github.com/KAsare1/teleconsult-server/service/metrics"
	"github.com/KAsare1/teleconsult-server/service/sideeffect"
	"github.com/KAsare1/teleconsult-server/service/subscription"
	"github.com/sirupsen/logrus"
)

// Stage names one step of a booking attempt.
type Stage string

const (
	StageValidating           Stage = "validating"
	StageQuotaChecking        Stage = "quota_checking"
	StageAvailabilityChecking Stage = "availability_checking"
	StageConflictChecking     Stage = "conflict_checking"
	StagePersisting           Stage = "persisting"
	StageSideEffects          Stage = "side_effects"
	StageDone                 Stage = "done"
)

// QuotaGuard is the subset of *subscription.Guard the scheduler needs.
type QuotaGuard interface {
	CheckAndReserve(ctx context.Context, userID uint, kind models.ResourceKind) (*subscription.Reservation, error)
	Commit(ctx context.Context, res *subscription.Reservation, reference string) error
}

// Notifier delivers best-effort messages to users.
type Notifier interface {
	Push(ctx context.Context, userID uint, title, body string, data map[string]string) error
	Email(ctx context.Context, userID uint, subject, htmlBody string) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uint
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// BookingRequest asks for one slot on a calendar date in the clinic location.
type BookingRequest struct {
	PatientID uint   `json:"patientId"`
	DoctorID  uint   `json:"doctorId"`
	Date      string `json:"date"`
	TimeSlot  string `json:"timeSlot"`
	Notes     string `json:"notes,omitempty"`
}

// Booking is a persisted appointment and what happened after it was saved.
type Booking struct {
	Appointment *models.Appointment  `json:"appointment"`
	SideEffects []sideeffect.Outcome `json:"side_effects"`
}

// StageError records where a booking attempt stopped.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Config struct {
	Location *time.Location
	MinLead  time.Duration
}

type Scheduler struct {
	store    Store
	resolver *availability.Resolver
	quota    QuotaGuard
	rooms    chats.Rooms
	notifier Notifier
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	loc      *time.Location
	minLead  time.Duration
	locks    *utils.KeyedMutex
	now      func() time.Time
}

// NewScheduler wires the booking pipeline. notifier and m may be nil.
func NewScheduler(store Store, resolver *availability.Resolver, quota QuotaGuard, rooms chats.Rooms, notifier Notifier, m *metrics.Metrics, log logrus.FieldLogger, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		store:    store,
		resolver: resolver,
		quota:    quota,
		rooms:    rooms,
		notifier: notifier,
		metrics:  m,
		log:      log,
		loc:      cfg.Location,
		minLead:  cfg.MinLead,
		locks:    utils.NewKeyedMutex(),
		now:      time.Now,
	}
}

// Book runs validation, quota, availability and conflict checks, then
// persists the appointment. Nothing is written unless every check passes.
// Side effects run after the write and never fail the booking.
func (s *Scheduler) Book(ctx context.Context, actor Actor, req BookingRequest) (*Booking, error) {
	booking, err := s.book(ctx, actor, req)
	if err != nil {
		result := "error"
		if appErr := utils.AsAppError(err); appErr != nil {
			result = string(appErr.Kind)
		}
		s.metrics.ObserveBooking(result)
		return nil, err
	}
	s.metrics.ObserveBooking("created")
	return booking, nil
}

func (s *Scheduler) book(ctx context.Context, actor Actor, req BookingRequest) (*Booking, error) {
	// Validating
	if req.PatientID == 0 || req.DoctorID == 0 {
		return nil, stageErr(StageValidating, utils.NewError(utils.KindValidation, "patientId and doctorId are required"))
	}
	if !actor.IsAdmin() && actor.UserID != req.PatientID {
		return nil, stageErr(StageValidating, utils.NewError(utils.KindUnauthorized, "you can only book appointments for yourself"))
	}
	if req.PatientID == req.DoctorID {
		return nil, stageErr(StageValidating, utils.NewError(utils.KindValidation, "patient and doctor must differ"))
	}
	date, err := availability.ParseDate(req.Date, s.loc)
	if err != nil {
		return nil, stageErr(StageValidating, err)
	}
	start, err := availability.SlotStart(date, req.TimeSlot)
	if err != nil {
		return nil, stageErr(StageValidating, err)
	}
	if start.Before(s.now().Add(s.minLead)) {
		return nil, stageErr(StageValidating, utils.ErrPastOrTooSoon)
	}
	end := start.Add(models.SlotDuration)
	label := availability.FormatClock(start.Hour()*60 + start.Minute())

	// QuotaChecking
	reservation, err := s.quota.CheckAndReserve(ctx, req.PatientID, models.ResourceMeeting)
	if err != nil {
		return nil, stageErr(StageQuotaChecking, err)
	}

	// AvailabilityChecking
	day, err := s.resolver.Day(ctx, req.DoctorID, date)
	if err != nil {
		return nil, stageErr(StageAvailabilityChecking, err)
	}
	if !day.IsAvailable {
		return nil, stageErr(StageAvailabilityChecking, utils.ErrDoctorUnavailable)
	}
	if !contains(day.TimeSlots, label) {
		return nil, stageErr(StageAvailabilityChecking, utils.ErrSlotNotOffered)
	}

	// ConflictChecking and Persisting hold the doctor's lock since slots of
	// one doctor may overlap without sharing a start. The store's exclusion
	// constraint covers other processes.
	unlock := s.locks.Lock(doctorKey(req.DoctorID))
	defer unlock()

	existing, err := s.store.ListActiveForDoctorBetween(ctx, req.DoctorID, start, end)
	if err != nil {
		return nil, stageErr(StageConflictChecking, err)
	}
	if len(existing) > 0 {
		return nil, stageErr(StageConflictChecking, utils.ErrSlotTaken)
	}

	appt := &models.Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		StartTime: start,
		EndTime:   end,
		Status:    models.AppointmentScheduled,
		Notes:     req.Notes,
	}
	if err := s.store.Create(ctx, appt); err != nil {
		return nil, stageErr(StagePersisting, err)
	}

	outcomes := s.afterBooking(ctx, appt, reservation)
	return &Booking{Appointment: appt, SideEffects: outcomes}, nil
}

func (s *Scheduler) afterBooking(ctx context.Context, appt *models.Appointment, res *subscription.Reservation) []sideeffect.Outcome {
	ref := "appointment:" + strconv.FormatUint(uint64(appt.ID), 10)
	outcomes := make([]sideeffect.Outcome, 0, 4)

	channelID, err := s.rooms.CreateRoom(ctx, appt.ID, appt.PatientID, appt.DoctorID)
	switch {
	case errors.Is(err, chats.ErrDisabled):
		outcomes = append(outcomes, sideeffect.Skip("chat_room", err.Error()))
	case err != nil:
		outcomes = append(outcomes, sideeffect.Degrade("chat_room", err))
	default:
		appt.ChatChannelID = channelID
		outcomes = append(outcomes, sideeffect.Run("chat_room", func() error {
			return s.store.SetChatChannel(ctx, appt.ID, channelID)
		}))
	}

	outcomes = append(outcomes, sideeffect.Run("quota_commit", func() error {
		return s.quota.Commit(ctx, res, ref)
	}))

	if s.notifier == nil {
		outcomes = append(outcomes,
			sideeffect.Skip("confirmation_email", "notifier disabled"),
			sideeffect.Skip("doctor_push", "notifier disabled"))
	} else {
		when := appt.StartTime.Format("Mon 2 Jan 2006, 15:04 MST")
		outcomes = append(outcomes, sideeffect.Run("confirmation_email", func() error {
			return s.notifier.Email(ctx, appt.PatientID, "Appointment confirmed",
				fmt.Sprintf("<p>Your consultation is booked for <b>%s</b>.</p><p>Reference: #%d</p>", when, appt.ID))
		}))
		outcomes = append(outcomes, sideeffect.Run("doctor_push", func() error {
			return s.notifier.Push(ctx, appt.DoctorID, "New appointment", "A patient booked "+when,
				map[string]string{"type": "appointment_booked", "appointment_id": strconv.FormatUint(uint64(appt.ID), 10)})
		}))
	}

	sideeffect.Report(s.log, s.metrics, logrus.Fields{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
	}, outcomes...)
	return outcomes
}

// Get returns an appointment visible to actor.
func (s *Scheduler) Get(ctx context.Context, actor Actor, id uint) (*models.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !appt.IsParticipant(actor.UserID) {
		return nil, utils.ErrUnauthorized
	}
	return appt, nil
}

func (s *Scheduler) ListForPatient(ctx context.Context, actor Actor, patientID uint, status string) ([]models.Appointment, error) {
	if !actor.IsAdmin() && actor.UserID != patientID {
		return nil, utils.ErrUnauthorized
	}
	return s.store.ListByPatient(ctx, patientID, status)
}

func (s *Scheduler) ListForDoctor(ctx context.Context, actor Actor, doctorID uint, status string) ([]models.Appointment, error) {
	if !actor.IsAdmin() && actor.UserID != doctorID {
		return nil, utils.ErrUnauthorized
	}
	return s.store.ListByDoctor(ctx, doctorID, status)
}

// Cancel frees the slot. Consumed quota is not refunded. Cancelling a
// cancelled appointment returns it unchanged and notifies nobody.
func (s *Scheduler) Cancel(ctx context.Context, actor Actor, id uint) (*models.Appointment, error) {
	appt, changed, err := s.transition(ctx, actor, id, models.AppointmentCancelled, false)
	if err != nil {
		return nil, err
	}
	if !changed || s.notifier == nil {
		return appt, nil
	}

	var recipients []uint
	switch actor.UserID {
	case appt.PatientID:
		recipients = []uint{appt.DoctorID}
	case appt.DoctorID:
		recipients = []uint{appt.PatientID}
	default:
		recipients = []uint{appt.PatientID, appt.DoctorID}
	}

	when := appt.StartTime.Format("Mon 2 Jan 15:04")
	data := map[string]string{"type": "appointment_cancelled", "appointment_id": strconv.FormatUint(uint64(appt.ID), 10)}
	outcomes := make([]sideeffect.Outcome, 0, len(recipients))
	for _, userID := range recipients {
		outcomes = append(outcomes, sideeffect.Run("cancel_push", func() error {
			return s.notifier.Push(ctx, userID, "Appointment cancelled", "A consultation on "+when+" was cancelled", data)
		}))
	}
	sideeffect.Report(s.log, s.metrics, logrus.Fields{"appointment_id": appt.ID, "by": actor.UserID}, outcomes...)
	return appt, nil
}

// Complete marks a scheduled appointment as held. Only its doctor or an admin may.
func (s *Scheduler) Complete(ctx context.Context, actor Actor, id uint) (*models.Appointment, error) {
	appt, _, err := s.transition(ctx, actor, id, models.AppointmentCompleted, true)
	return appt, err
}

func (s *Scheduler) transition(ctx context.Context, actor Actor, id uint, to string, doctorOnly bool) (*models.Appointment, bool, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	allowed := appt.IsParticipant(actor.UserID)
	if doctorOnly {
		allowed = actor.UserID == appt.DoctorID
	}
	if !actor.IsAdmin() && !allowed {
		return nil, false, utils.ErrUnauthorized
	}

	if appt.Status == to {
		return appt, false, nil
	}
	if appt.Status != models.AppointmentScheduled {
		return nil, false, utils.NewError(utils.KindInvalidTransition, "appointment is already %s", appt.Status)
	}

	ok, err := s.store.UpdateStatus(ctx, id, models.AppointmentScheduled, to)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// lost a race with another transition
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if current.Status == to {
			return current, false, nil
		}
		return nil, false, utils.NewError(utils.KindInvalidTransition, "appointment is already %s", current.Status)
	}
	appt.Status = to

	s.log.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"status":         to,
		"by":             actor.UserID,
	}).Info("appointment status changed")
	return appt, true, nil
}

// LinkCall sets the appointment's call id if none is set and reports
// whether this call won.
func (s *Scheduler) LinkCall(ctx context.Context, appointmentID, callID uint) (bool, error) {
	return s.store.SetCallID(ctx, appointmentID, callID)
}

// Lookup returns the appointment without an access check.
func (s *Scheduler) Lookup(ctx context.Context, id uint) (*models.Appointment, error) {
	return s.store.Get(ctx, id)
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// FailedStage reports the stage a booking error came from.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func doctorKey(doctorID uint) string {
	return "doctor:" + strconv.FormatUint(uint64(doctorID), 10)
}

func contains(slots []string, label string) bool {
	for _, s := range slots {
		if s == label {
			return true
		}
	}
	return false
}
