package dashboard

import (
	"context"
	"net/http"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type UserCounter interface {
	CountByRole(ctx context.Context, role string) (int64, error)
}

type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type PresenceCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	users        UserCounter
	appointments StatusCounter
	calls        StatusCounter
	presence     PresenceCounter
	auth         *utils.Authenticator
	log          logrus.FieldLogger
}

func NewDashboardHandler(users UserCounter, appointments, calls StatusCounter, presence PresenceCounter, auth *utils.Authenticator, log logrus.FieldLogger) *DashboardHandler {
	return &DashboardHandler{users: users, appointments: appointments, calls: calls, presence: presence, auth: auth, log: log}
}

type DashboardStats struct {
	TotalPatients     int64            `json:"total_patients"`
	TotalDoctors      int64            `json:"total_doctors"`
	Appointments      map[string]int64 `json:"appointments"`
	Calls             map[string]int64 `json:"calls"`
	OnlineSignalUsers int              `json:"online_signaling_users"`
}

// RegisterRoutes registers dashboard-related routes with Gorilla Mux
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	dashboardRouter := router.PathPrefix("/dashboard").Subrouter()
	dashboardRouter.HandleFunc("/stats", h.auth.Wrap(h.GetDashboardStats)).Methods("GET")
}

func (h *DashboardHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	if utils.GetUserRoleFromContext(r) != models.RoleAdmin {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindUnauthorized, "admin access required"))
		return
	}

	ctx := r.Context()
	var stats DashboardStats
	var err error

	if stats.TotalPatients, err = h.users.CountByRole(ctx, models.RolePatient); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if stats.TotalDoctors, err = h.users.CountByRole(ctx, models.RoleDoctor); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if stats.Appointments, err = h.appointments.CountByStatus(ctx); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if stats.Calls, err = h.calls.CountByStatus(ctx); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if h.presence != nil {
		stats.OnlineSignalUsers = h.presence.ClientCount()
	}

	utils.RespondWithData(w, http.StatusOK, stats)
}
