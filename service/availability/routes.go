package availability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type AvailabilityHandler struct {
	store    Store
	resolver *Resolver
	auth     *utils.Authenticator
	loc      *time.Location
	log      logrus.FieldLogger
}

func NewAvailabilityHandler(store Store, resolver *Resolver, auth *utils.Authenticator, loc *time.Location, log logrus.FieldLogger) *AvailabilityHandler {
	return &AvailabilityHandler{store: store, resolver: resolver, auth: auth, loc: loc, log: log}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/availability/{doctorId:[0-9]+}", h.auth.Wrap(h.CheckAvailability)).Methods("GET")
	router.HandleFunc("/doctors/{doctorId:[0-9]+}/availability", h.auth.Wrap(h.GetSchedule)).Methods("GET")
	router.HandleFunc("/doctors/{doctorId:[0-9]+}/availability", h.auth.Wrap(h.UpdateSchedule)).Methods("PUT")
}

// CheckAvailability handles GET /availability/{doctorId}?date=YYYY-MM-DD
func (h *AvailabilityHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := doctorIDFromPath(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "date query parameter is required"))
		return
	}
	date, err := ParseDate(dateStr, h.loc)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	result, err := h.resolver.CheckAvailability(r.Context(), doctorID, date)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, result)
}

func (h *AvailabilityHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, err := doctorIDFromPath(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	week, err := h.store.GetWeek(r.Context(), doctorID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, week)
}

// UpdateSchedule replaces the doctor's whole week. Only the doctor or an admin may do this.
func (h *AvailabilityHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, err := doctorIDFromPath(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	userID, _ := utils.GetUserIDFromContext(r)
	role := utils.GetUserRoleFromContext(r)
	if role != models.RoleAdmin && !(role == models.RoleDoctor && userID == doctorID) {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindUnauthorized, "only the doctor or an admin can edit this schedule"))
		return
	}

	var week WeeklySchedule
	if err := utils.DecodeJSON(r, &week); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	days, err := SaveWeeklySchedule(r.Context(), h.store, doctorID, week)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	h.log.WithFields(logrus.Fields{"doctor_id": doctorID, "updated_by": userID}).Info("weekly schedule updated")
	utils.RespondWithMessage(w, http.StatusOK, "Schedule updated", days)
}

func doctorIDFromPath(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["doctorId"], 10, 64)
	if err != nil || id == 0 {
		return 0, utils.NewError(utils.KindValidation, "invalid doctor ID")
	}
	return uint(id), nil
}
