package notification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) Send(tokens []string, title, body string, data map[string]string) ([]string, error) {
	args := m.Called(tokens, title, body, data)
	invalid, _ := args.Get(0).([]string)
	return invalid, args.Error(1)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(to, subject, body string) error {
	return m.Called(to, subject, body).Error(0)
}

type staticDirectory map[uint]*models.User

func (d staticDirectory) GetUser(_ context.Context, id uint) (*models.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, utils.ErrNotFound
}

const validToken = "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"

func TestNotifier_PushRemovesInvalidTokens(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.UpsertDevice(context.Background(), &models.Device{UserID: 4, Token: validToken}))
	require.NoError(t, store.UpsertDevice(context.Background(), &models.Device{UserID: 4, Token: "stale"}))

	pusher := &mockPusher{}
	pusher.On("Send", []string{validToken, "stale"}, "New booking", "body", map[string]string{"appointment_id": "1"}).
		Return([]string{"stale"}, nil)

	log, _ := test.NewNullLogger()
	n := NewNotifier(store, staticDirectory{}, pusher, DisabledMailer{}, log)

	require.NoError(t, n.Push(context.Background(), 4, "New booking", "body", map[string]string{"appointment_id": "1"}))

	devices, _ := store.DevicesForUser(context.Background(), 4)
	require.Len(t, devices, 1)
	assert.Equal(t, validToken, devices[0].Token)
	history, total, _ := store.History(context.Background(), 4, 10, 0)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "sent", history[0].Status)
	pusher.AssertExpectations(t)
}

func TestNotifier_PushWithoutDevices(t *testing.T) {
	log, _ := test.NewNullLogger()
	n := NewNotifier(NewMemoryStore(), staticDirectory{}, &mockPusher{}, DisabledMailer{}, log)
	assert.ErrorIs(t, n.Push(context.Background(), 4, "t", "b", nil), ErrNoDevices)
}

func TestNotifier_EmailRecordsFailure(t *testing.T) {
	store := NewMemoryStore()
	mailer := &mockMailer{}
	mailer.On("Send", "ama@example.com", "Appointment confirmed", mock.Anything).Return(errors.New("dial tcp: timeout"))

	log, _ := test.NewNullLogger()
	n := NewNotifier(store, staticDirectory{3: {Email: "ama@example.com"}}, &mockPusher{}, mailer, log)

	err := n.Email(context.Background(), 3, "Appointment confirmed", "<p>see you</p>")
	assert.Error(t, err)

	history, _, _ := store.History(context.Background(), 3, 10, 0)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].Status)
	assert.Equal(t, "email", history[0].Channel)
}

func TestRegisterDevice(t *testing.T) {
	store := NewMemoryStore()
	auth := utils.NewAuthenticator("secret")
	log, _ := test.NewNullLogger()
	router := mux.NewRouter()
	NewNotificationHandler(store, auth, log).RegisterRoutes(router)

	token, err := utils.SignToken("secret", 4, "doctor", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`{"token":"not-a-token"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`{"token":"`+validToken+`","deviceType":"ios"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	devices, _ := store.DevicesForUser(context.Background(), 4)
	require.Len(t, devices, 1)
	assert.Equal(t, "ios", devices[0].DeviceType)
}
