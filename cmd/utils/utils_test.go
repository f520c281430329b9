package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("booking: %w", NewError(KindQuotaExceeded, "AI usage limit reached (%d/%d)", 5, 5))

	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.False(t, errors.Is(err, ErrSlotTaken))

	appErr := AsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "AI usage limit reached (5/5)", appErr.Message)
	assert.Equal(t, http.StatusPaymentRequired, appErr.Status())
}

func TestRespondWithError_KnownKind(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := httptest.NewRecorder()

	RespondWithError(rec, log, ErrSlotTaken)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, ErrSlotTaken.Message, body.Message)
}

func TestRespondWithError_UnknownErrorIsHidden(t *testing.T) {
	log, hook := test.NewNullLogger()
	rec := httptest.NewRecorder()

	RespondWithError(rec, log, errors.New("pq: relation \"appointments\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := SignToken("secret", 42, "doctor", time.Hour)
	require.NoError(t, err)

	id, role, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
	assert.Equal(t, "doctor", role)

	_, _, err = ParseToken("other-secret", token)
	assert.Error(t, err)

	_, _, err = ParseToken("secret", "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestAuthenticator_Middleware(t *testing.T) {
	auth := NewAuthenticator("secret")
	handler := auth.Wrap(func(w http.ResponseWriter, r *http.Request) {
		id, err := GetUserIDFromContext(r)
		require.NoError(t, err)
		RespondWithData(w, http.StatusOK, map[string]interface{}{"id": id, "role": GetUserRoleFromContext(r)})
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := SignToken("secret", 7, "patient", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"patient"`)
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("doctor-1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.size())
}
