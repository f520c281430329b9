package call

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/service/subscription"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	patientID uint = 1
	doctorID  uint = 2
	outsider  uint = 3
)

type fakeAppointments struct {
	mu    sync.Mutex
	appts map[uint]*models.Appointment
}

func (f *fakeAppointments) Lookup(_ context.Context, id uint) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, utils.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAppointments) LinkCall(_ context.Context, appointmentID, callID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.appts[appointmentID]
	if a.CallID != nil {
		return false, nil
	}
	a.CallID = &callID
	return true, nil
}

type sent struct {
	userID uint
	event  string
}

type fakeSignaler struct {
	mu     sync.Mutex
	online map[uint]bool
	sent   []sent
}

func (f *fakeSignaler) SendToUser(userID uint, event string, _ interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.sent = append(f.sent, sent{userID, event})
	return true
}

func (f *fakeSignaler) events(userID uint) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.userID == userID {
			out = append(out, s.event)
		}
	}
	return out
}

type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) AppID() string { return "app-123" }

func (p *countingProvider) GenerateToken(_ context.Context, roomID string, uid uint32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return fmt.Sprintf("%s/%d/%d", roomID, uid, p.calls), nil
}

type fixture struct {
	manager  *Manager
	store    *MemoryStore
	appts    *fakeAppointments
	signaler *fakeSignaler
	subs     *subscription.MemoryStore
	clock    time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		store: NewMemoryStore(),
		appts: &fakeAppointments{appts: map[uint]*models.Appointment{
			10: {PatientID: patientID, DoctorID: doctorID, Status: models.AppointmentScheduled},
			11: {PatientID: patientID, DoctorID: doctorID, Status: models.AppointmentCancelled},
		}},
		signaler: &fakeSignaler{online: map[uint]bool{patientID: true, doctorID: true}},
		subs:     subscription.NewMemoryStore(),
		clock:    time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC),
	}
	for id, a := range f.appts.appts {
		a.ID = id
	}

	var uid uint32
	f.manager = NewManager(f.store, f.appts, subscription.NewGuard(f.subs, 1), &countingProvider{}, f.signaler, nil, log)
	f.manager.now = func() time.Time { return f.clock }
	f.manager.newUID = func() uint32 { uid++; return uid }
	return f
}

func TestStartFromAppointment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	session, err := f.manager.StartFromAppointment(ctx, patientID, 10, "voice")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, session.Call.Status)
	assert.Equal(t, models.CallTypeVoice, session.Call.CallType)
	assert.Equal(t, RolePatient, session.Role)
	assert.Equal(t, "app-123", session.AppID)
	assert.Equal(t, session.Call.RoomID, session.Channel)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, []string{EventIncomingCall}, f.signaler.events(doctorID))

	appt, _ := f.appts.Lookup(ctx, 10)
	require.NotNil(t, appt.CallID)
	assert.Equal(t, session.Call.ID, *appt.CallID)
}

func TestStartFromAppointment_SecondStartJoinsExistingCall(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)

	second, err := f.manager.StartFromAppointment(ctx, doctorID, 10, "video")
	require.NoError(t, err)
	assert.Equal(t, first.Call.ID, second.Call.ID)
	assert.Equal(t, first.Call.RoomID, second.Call.RoomID)
	assert.Equal(t, RoleDoctor, second.Role)
	assert.Equal(t, models.CallActive, second.Call.Status)

	counts, _ := f.store.CountByStatus(ctx)
	assert.EqualValues(t, 1, counts[models.CallActive])
	assert.Len(t, counts, 1)
}

func TestStartFromAppointment_ConcurrentStartsShareOneCall(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	rooms := make([]string, 2)
	for i, user := range []uint{patientID, doctorID} {
		wg.Add(1)
		go func(i int, user uint) {
			defer wg.Done()
			s, err := f.manager.StartFromAppointment(ctx, user, 10, "video")
			if assert.NoError(t, err) {
				rooms[i] = s.Call.RoomID
			}
		}(i, user)
	}
	wg.Wait()
	assert.Equal(t, rooms[0], rooms[1])
}

func TestStartFromAppointment_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.manager.StartFromAppointment(ctx, outsider, 10, "video")
	assert.ErrorIs(t, err, utils.ErrUnauthorized)

	_, err = f.manager.StartFromAppointment(ctx, patientID, 11, "video")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	_, err = f.manager.StartFromAppointment(ctx, patientID, 99, "video")
	assert.ErrorIs(t, err, utils.ErrAppointmentNotFound)

	_, err = f.manager.StartFromAppointment(ctx, patientID, 10, "hologram")
	assert.ErrorIs(t, err, utils.ErrValidation)
}

func TestJoinCall_FreshTokenSameRoom(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	started, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)

	a, err := f.manager.JoinCall(ctx, started.Call.ID, doctorID)
	require.NoError(t, err)
	b, err := f.manager.JoinCall(ctx, started.Call.ID, doctorID)
	require.NoError(t, err)

	assert.Equal(t, a.Call.RoomID, b.Call.RoomID)
	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.ParticipantID, b.ParticipantID)
	assert.Contains(t, f.signaler.events(patientID), EventParticipantJoined)
}

func TestJoinCall_InitiatorRejoinDoesNotActivate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	started, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)

	again, err := f.manager.JoinCall(ctx, started.Call.ID, patientID)
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, again.Call.Status)
}

func TestJoinCall_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	started, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)

	_, err = f.manager.JoinCall(ctx, started.Call.ID, outsider)
	assert.ErrorIs(t, err, utils.ErrUnauthorized)

	_, err = f.manager.JoinCall(ctx, 404, patientID)
	assert.ErrorIs(t, err, utils.ErrCallNotFound)

	_, err = f.manager.EndCall(ctx, started.Call.ID, patientID)
	require.NoError(t, err)

	_, err = f.manager.JoinCall(ctx, started.Call.ID, doctorID)
	assert.ErrorIs(t, err, utils.ErrCallEnded)
}

func TestEndCall_DurationAndIdempotence(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	started, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)
	_, err = f.manager.JoinCall(ctx, started.Call.ID, doctorID)
	require.NoError(t, err)

	f.clock = f.clock.Add(12*time.Minute + 30*time.Second)
	first, err := f.manager.EndCall(ctx, started.Call.ID, doctorID)
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, first.Status)
	assert.EqualValues(t, 750, first.DurationSeconds)
	assert.Equal(t, models.EndReasonCompleted, first.Call.EndReason)
	assert.Contains(t, f.signaler.events(patientID), EventCallEnded)

	f.clock = f.clock.Add(time.Hour)
	second, err := f.manager.EndCall(ctx, started.Call.ID, patientID)
	require.NoError(t, err)
	assert.EqualValues(t, 750, second.DurationSeconds)
	assert.Equal(t, first.Call.EndTime.Unix(), second.Call.EndTime.Unix())
	require.NotNil(t, second.Call.EndedBy)
	assert.Equal(t, doctorID, *second.Call.EndedBy)
}

func TestEndCall_Unauthorized(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	started, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)

	_, err = f.manager.EndCall(ctx, started.Call.ID, outsider)
	assert.ErrorIs(t, err, utils.ErrUnauthorized)
}

func TestRingingAndDecline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	started, err := f.manager.StartFromAppointment(ctx, patientID, 10, "video")
	require.NoError(t, err)

	c, err := f.manager.MarkRinging(ctx, started.Call.ID, doctorID)
	require.NoError(t, err)
	assert.Equal(t, models.CallRinging, c.Status)
	assert.Contains(t, f.signaler.events(patientID), EventCallRinging)

	_, err = f.manager.Decline(ctx, started.Call.ID, patientID)
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	summary, err := f.manager.Decline(ctx, started.Call.ID, doctorID)
	require.NoError(t, err)
	assert.Equal(t, models.EndReasonDeclined, summary.Call.EndReason)
	assert.Zero(t, summary.DurationSeconds)
}

func TestStartInstant_ConsumesQuota(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	session, err := f.manager.StartInstant(ctx, patientID, doctorID, "")
	require.NoError(t, err)
	assert.Nil(t, session.Call.AppointmentID)
	assert.Equal(t, models.CallTypeVideo, session.Call.CallType)
	assert.Equal(t, []string{EventIncomingCall}, f.signaler.events(doctorID))

	_, err = f.manager.StartInstant(ctx, patientID, doctorID, "video")
	require.ErrorIs(t, err, utils.ErrQuotaExceeded)
}

func TestSignalsToOfflineUsersAreDropped(t *testing.T) {
	f := setup(t)
	f.signaler.online = map[uint]bool{}

	_, err := f.manager.StartFromAppointment(context.Background(), patientID, 10, "video")
	require.NoError(t, err)
	assert.Empty(t, f.signaler.sent)
}
