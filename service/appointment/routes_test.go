package appointment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/service/chats"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *mux.Router {
	f := setup(t, 3, chats.DisabledRooms{})
	log, _ := test.NewNullLogger()
	router := mux.NewRouter()
	NewAppointmentHandler(f.scheduler, utils.NewAuthenticator("secret"), log).RegisterRoutes(router)
	return router
}

func do(t *testing.T, router *mux.Router, method, path, body string, userID uint, role string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := utils.SignToken("secret", userID, role, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_BookThenConflict(t *testing.T) {
	router := setupRouter(t)
	body := `{"doctorId":7,"date":"2030-01-07","timeSlot":"10:00"}`

	rec := do(t, router, http.MethodPost, "/appointments", body, 1, "patient")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"side_effects"`)

	rec = do(t, router, http.MethodPost, "/appointments", body, 2, "patient")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already booked")
}

func TestHandler_ListRequiresOwner(t *testing.T) {
	router := setupRouter(t)

	rec := do(t, router, http.MethodGet, "/appointments/patient/1", "", 2, "patient")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/appointments/patient/1", "", 99, "admin")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_CancelUnknown(t *testing.T) {
	router := setupRouter(t)

	rec := do(t, router, http.MethodPatch, "/appointments/42/cancel", "", 1, "patient")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RequiresToken(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/appointments/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
