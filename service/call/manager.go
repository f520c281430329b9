package call

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/service/metrics"
	"github.com/KAsare1/teleconsult-server/service/sideeffect"
	"github.com/KAsare1/teleconsult-server/service/subscription"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event names pushed to participants over the signaling gateway.
const (
	EventIncomingCall      = "incoming_call"
	EventParticipantJoined = "participant_joined"
	EventCallEnded         = "call_ended"
	EventCallRinging       = "call_ringing"
)

// Roles a participant can hold on a call.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Signaler delivers an event to a connected user. Delivery is best effort.
type Signaler interface {
	SendToUser(userID uint, event string, payload interface{}) bool
}

// Appointments is what the manager needs from the scheduler.
type Appointments interface {
	Lookup(ctx context.Context, id uint) (*models.Appointment, error)
	LinkCall(ctx context.Context, appointmentID, callID uint) (bool, error)
}

type QuotaGuard interface {
	CheckAndReserve(ctx context.Context, userID uint, kind models.ResourceKind) (*subscription.Reservation, error)
	Commit(ctx context.Context, res *subscription.Reservation, reference string) error
}

// Session is a call plus a fresh join credential for one participant.
type Session struct {
	Call          *models.Call `json:"call"`
	Role          string       `json:"role"`
	AppID         string       `json:"app_id"`
	Channel       string       `json:"channel"`
	Token         string       `json:"token"`
	ParticipantID uint32       `json:"uid"`
}

// Summary is returned when a call ends.
type Summary struct {
	Call            *models.Call `json:"call"`
	Status          string       `json:"status"`
	DurationSeconds int64        `json:"duration_seconds"`
}

type Manager struct {
	store        Store
	appointments Appointments
	quota        QuotaGuard
	provider     Provider
	signaler     Signaler
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
	now          func() time.Time
	newRoomID    func() string
	newUID       func() uint32
}

func NewManager(store Store, appointments Appointments, quota QuotaGuard, provider Provider, signaler Signaler, m *metrics.Metrics, log logrus.FieldLogger) *Manager {
	return &Manager{
		store:        store,
		appointments: appointments,
		quota:        quota,
		provider:     provider,
		signaler:     signaler,
		metrics:      m,
		log:          log,
		now:          time.Now,
		newRoomID:    uuid.NewString,
		newUID:       randomUID,
	}
}

// randomUID returns a non-zero participant id.
func randomUID() uint32 {
	return rand.Uint32N(1<<31-1) + 1
}

// RoleOf resolves userID against the call's participants.
func RoleOf(c *models.Call, userID uint) (string, bool) {
	switch userID {
	case c.PatientID:
		return RolePatient, true
	case c.DoctorID:
		return RoleDoctor, true
	}
	return "", false
}

// StartFromAppointment opens the appointment's call. If the appointment
// already has one the caller joins it instead.
func (m *Manager) StartFromAppointment(ctx context.Context, userID, appointmentID uint, callType string) (*Session, error) {
	callType, err := normalizeCallType(callType)
	if err != nil {
		return nil, err
	}
	appt, err := m.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParticipant(userID) {
		return nil, utils.ErrUnauthorized
	}
	if appt.CallID != nil {
		return m.JoinCall(ctx, *appt.CallID, userID)
	}
	if appt.Status != models.AppointmentScheduled {
		return nil, utils.NewError(utils.KindInvalidTransition, "appointment is %s", appt.Status)
	}

	c := &models.Call{
		RoomID:        m.newRoomID(),
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		InitiatorID:   userID,
		Status:        models.CallInitiated,
		CallType:      callType,
		AppointmentID: &appt.ID,
	}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	linked, err := m.appointments.LinkCall(ctx, appt.ID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("link call: %w", err)
	}
	if !linked {
		// Another participant started a call first; retire ours and join theirs.
		m.end(ctx, c, nil, models.EndReasonSuperseded)
		winner, err := m.appointments.Lookup(ctx, appt.ID)
		if err != nil {
			return nil, err
		}
		if winner.CallID == nil {
			return nil, utils.NewError(utils.KindInternal, "appointment call link lost")
		}
		return m.JoinCall(ctx, *winner.CallID, userID)
	}

	m.metrics.ObserveCall("initiated")
	m.log.WithFields(logrus.Fields{
		"call_id":        c.ID,
		"appointment_id": appt.ID,
		"initiator_id":   userID,
	}).Info("call initiated")

	m.ring(c)
	return m.credential(ctx, c, userID)
}

// StartInstant opens an unscheduled consultation between a patient and a
// doctor. It consumes one meeting unit from the patient's quota.
func (m *Manager) StartInstant(ctx context.Context, patientID, doctorID uint, callType string) (*Session, error) {
	callType, err := normalizeCallType(callType)
	if err != nil {
		return nil, err
	}
	if doctorID == 0 || doctorID == patientID {
		return nil, utils.NewError(utils.KindValidation, "a valid doctorId is required")
	}

	reservation, err := m.quota.CheckAndReserve(ctx, patientID, models.ResourceMeeting)
	if err != nil {
		return nil, err
	}

	c := &models.Call{
		RoomID:      m.newRoomID(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		InitiatorID: patientID,
		Status:      models.CallInitiated,
		CallType:    callType,
	}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	outcome := sideeffect.Run("quota_commit", func() error {
		return m.quota.Commit(ctx, reservation, "call:"+strconv.FormatUint(uint64(c.ID), 10))
	})
	sideeffect.Report(m.log, m.metrics, logrus.Fields{"call_id": c.ID, "patient_id": patientID}, outcome)

	m.metrics.ObserveCall("initiated")
	m.ring(c)
	return m.credential(ctx, c, patientID)
}

// JoinCall issues a fresh credential to a participant. The first join by
// the non-initiating participant makes the call active.
func (m *Manager) JoinCall(ctx context.Context, callID, userID uint) (*Session, error) {
	c, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, ok := RoleOf(c, userID); !ok {
		return nil, utils.ErrUnauthorized
	}
	if c.IsEnded() {
		return nil, utils.ErrCallEnded
	}

	if userID != c.InitiatorID && c.Status != models.CallActive {
		now := m.now()
		activated, err := m.store.Activate(ctx, c.ID, now)
		if err != nil {
			return nil, fmt.Errorf("activate call: %w", err)
		}
		if activated {
			c.Status = models.CallActive
			c.StartTime = &now
			m.metrics.ObserveCall("active")
		} else if c, err = m.store.Get(ctx, callID); err != nil {
			return nil, err
		} else if c.IsEnded() {
			return nil, utils.ErrCallEnded
		}
	}

	m.signal(c.Counterpart(userID), EventParticipantJoined, map[string]interface{}{
		"call_id": c.ID,
		"user_id": userID,
		"status":  c.Status,
	})
	m.metrics.ObserveCall("joined")
	return m.credential(ctx, c, userID)
}

// MarkRinging records that the callee's device is alerting.
func (m *Manager) MarkRinging(ctx context.Context, callID, userID uint) (*models.Call, error) {
	c, err := m.participantCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if c.IsEnded() {
		return nil, utils.ErrCallEnded
	}
	if userID == c.InitiatorID {
		return c, nil
	}
	ok, err := m.store.MarkRinging(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.Status = models.CallRinging
		m.signal(c.InitiatorID, EventCallRinging, map[string]interface{}{"call_id": c.ID})
	}
	return c, nil
}

// Decline ends a call that has not been answered. Only the callee may decline.
func (m *Manager) Decline(ctx context.Context, callID, userID uint) (*Summary, error) {
	c, err := m.participantCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if c.IsEnded() {
		return summarize(c), nil
	}
	if userID == c.InitiatorID || c.Status == models.CallActive {
		return nil, utils.NewError(utils.KindInvalidTransition, "only an unanswered incoming call can be declined")
	}
	return m.finish(ctx, c, userID, models.EndReasonDeclined)
}

// EndCall terminates the call. Ending an ended call returns its record.
func (m *Manager) EndCall(ctx context.Context, callID, userID uint) (*Summary, error) {
	c, err := m.participantCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if c.IsEnded() {
		return summarize(c), nil
	}
	return m.finish(ctx, c, userID, models.EndReasonCompleted)
}

// EndForAppointment ends the call linked to an appointment.
func (m *Manager) EndForAppointment(ctx context.Context, appointmentID, userID uint) (*Summary, error) {
	appt, err := m.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParticipant(userID) {
		return nil, utils.ErrUnauthorized
	}
	if appt.CallID == nil {
		return nil, utils.NewError(utils.KindCallNotFound, "no call has been started for this appointment")
	}
	return m.EndCall(ctx, *appt.CallID, userID)
}

// JoinForAppointment joins the call linked to an appointment.
func (m *Manager) JoinForAppointment(ctx context.Context, appointmentID, userID uint) (*Session, error) {
	appt, err := m.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParticipant(userID) {
		return nil, utils.ErrUnauthorized
	}
	if appt.CallID == nil {
		return nil, utils.NewError(utils.KindCallNotFound, "no call has been started for this appointment")
	}
	return m.JoinCall(ctx, *appt.CallID, userID)
}

// GetCall returns a call to one of its participants or an admin.
func (m *Manager) GetCall(ctx context.Context, callID, userID uint, role string) (*models.Call, error) {
	c, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, ok := RoleOf(c, userID); !ok && role != models.RoleAdmin {
		return nil, utils.ErrUnauthorized
	}
	return c, nil
}

func (m *Manager) participantCall(ctx context.Context, callID, userID uint) (*models.Call, error) {
	c, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, ok := RoleOf(c, userID); !ok {
		return nil, utils.ErrUnauthorized
	}
	return c, nil
}

func (m *Manager) finish(ctx context.Context, c *models.Call, userID uint, reason string) (*Summary, error) {
	ended, err := m.end(ctx, c, &userID, reason)
	if err != nil {
		return nil, err
	}
	if !ended {
		// concurrent end; report the stored terminal record
		current, err := m.store.Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		return summarize(current), nil
	}

	m.signal(c.Counterpart(userID), EventCallEnded, map[string]interface{}{
		"call_id":          c.ID,
		"ended_by":         userID,
		"reason":           reason,
		"duration_seconds": c.DurationSeconds,
	})
	m.log.WithFields(logrus.Fields{
		"call_id":  c.ID,
		"ended_by": userID,
		"reason":   reason,
		"duration": c.DurationSeconds,
	}).Info("call ended")
	return summarize(c), nil
}

// end applies the terminal transition and updates c in place when it wins.
func (m *Manager) end(ctx context.Context, c *models.Call, by *uint, reason string) (bool, error) {
	now := m.now()
	var duration time.Duration
	if c.StartTime != nil {
		duration = now.Sub(*c.StartTime)
	}
	ok, err := m.store.End(ctx, c.ID, Ending{At: now, By: by, Reason: reason, Duration: duration})
	if err != nil {
		m.log.WithError(err).WithField("call_id", c.ID).Error("end call")
		return false, fmt.Errorf("end call: %w", err)
	}
	if !ok {
		return false, nil
	}
	c.Status = models.CallEnded
	c.EndTime = &now
	c.EndedBy = by
	c.EndReason = reason
	c.DurationSeconds = int64(duration / time.Second)
	m.metrics.ObserveCall(reason)
	if duration > 0 {
		m.metrics.ObserveCallDuration(duration)
	}
	return true, nil
}

func (m *Manager) ring(c *models.Call) {
	callee := c.Counterpart(c.InitiatorID)
	m.signal(callee, EventIncomingCall, map[string]interface{}{
		"call_id":        c.ID,
		"room_id":        c.RoomID,
		"caller_id":      c.InitiatorID,
		"call_type":      c.CallType,
		"appointment_id": c.AppointmentID,
	})
}

func (m *Manager) signal(userID uint, event string, payload interface{}) {
	if m.signaler == nil || userID == 0 {
		return
	}
	if !m.signaler.SendToUser(userID, event, payload) {
		m.log.WithFields(logrus.Fields{"user_id": userID, "event": event}).Debug("signal dropped, user offline")
	}
}

func (m *Manager) credential(ctx context.Context, c *models.Call, userID uint) (*Session, error) {
	role, _ := RoleOf(c, userID)
	uid := m.newUID()
	token, err := m.provider.GenerateToken(ctx, c.RoomID, uid)
	if err != nil {
		return nil, err
	}
	return &Session{
		Call:          c,
		Role:          role,
		AppID:         m.provider.AppID(),
		Channel:       c.RoomID,
		Token:         token,
		ParticipantID: uid,
	}, nil
}

func summarize(c *models.Call) *Summary {
	return &Summary{Call: c, Status: c.Status, DurationSeconds: c.DurationSeconds}
}

func normalizeCallType(t string) (string, error) {
	switch t {
	case "":
		return models.CallTypeVideo, nil
	case models.CallTypeVideo, models.CallTypeVoice:
		return t, nil
	}
	return "", utils.NewError(utils.KindValidation, "callType must be video or voice")
}
