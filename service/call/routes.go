package call

import (
	"io"
	"net/http"
	"strconv"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type CallHandler struct {
	manager *Manager
	auth    *utils.Authenticator
	log     logrus.FieldLogger
}

func NewCallHandler(manager *Manager, auth *utils.Authenticator, log logrus.FieldLogger) *CallHandler {
	return &CallHandler{manager: manager, auth: auth, log: log}
}

func (h *CallHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/{id:[0-9]+}/start-call", h.auth.Wrap(h.StartCall)).Methods("POST")
	router.HandleFunc("/appointments/{id:[0-9]+}/join-call", h.auth.Wrap(h.JoinAppointmentCall)).Methods("POST")
	router.HandleFunc("/appointments/{id:[0-9]+}/end-call", h.auth.Wrap(h.EndAppointmentCall)).Methods("POST")

	callRouter := router.PathPrefix("/calls").Subrouter()
	callRouter.HandleFunc("/instant", h.auth.Wrap(h.StartInstantCall)).Methods("POST")
	callRouter.HandleFunc("/{id:[0-9]+}", h.auth.Wrap(h.GetCall)).Methods("GET")
	callRouter.HandleFunc("/{id:[0-9]+}/join", h.auth.Wrap(h.JoinCall)).Methods("POST")
	callRouter.HandleFunc("/{id:[0-9]+}/ringing", h.auth.Wrap(h.MarkRinging)).Methods("POST")
	callRouter.HandleFunc("/{id:[0-9]+}/decline", h.auth.Wrap(h.DeclineCall)).Methods("POST")
	callRouter.HandleFunc("/{id:[0-9]+}/end", h.auth.Wrap(h.EndCall)).Methods("POST")
}

type startCallRequest struct {
	CallType string `json:"callType"`
	DoctorID uint   `json:"doctorId,omitempty"`
}

// StartCall handles POST /appointments/{id}/start-call
func (h *CallHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	var req startCallRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	session, err := h.manager.StartFromAppointment(r.Context(), userID, id, req.CallType)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Call ready", session)
}

func (h *CallHandler) JoinAppointmentCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	session, err := h.manager.JoinForAppointment(r.Context(), id, userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, session)
}

func (h *CallHandler) EndAppointmentCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	summary, err := h.manager.EndForAppointment(r.Context(), id, userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Call ended", summary)
}

// StartInstantCall lets a patient call a doctor without an appointment.
func (h *CallHandler) StartInstantCall(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}
	if role := utils.GetUserRoleFromContext(r); role != "" && role != models.RolePatient {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindUnauthorized, "only patients can start instant consultations"))
		return
	}

	var req startCallRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	session, err := h.manager.StartInstant(r.Context(), userID, req.DoctorID, req.CallType)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusCreated, "Call ready", session)
}

func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	c, err := h.manager.GetCall(r.Context(), id, userID, utils.GetUserRoleFromContext(r))
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, c)
}

func (h *CallHandler) JoinCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	session, err := h.manager.JoinCall(r.Context(), id, userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, session)
}

func (h *CallHandler) MarkRinging(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	c, err := h.manager.MarkRinging(r.Context(), id, userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, c)
}

func (h *CallHandler) DeclineCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	summary, err := h.manager.Decline(r.Context(), id, userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Call declined", summary)
}

func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	summary, err := h.manager.EndCall(r.Context(), id, userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Call ended", summary)
}

func (h *CallHandler) userAndID(w http.ResponseWriter, r *http.Request) (uint, uint, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return 0, 0, false
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "invalid id"))
		return 0, 0, false
	}
	return userID, uint(id), true
}

// decodeOptional accepts an empty body.
func (h *CallHandler) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := utils.DecodeJSON(r, v); err != nil {
		if appErr := utils.AsAppError(err); appErr != nil && appErr.Cause == io.EOF {
			return true
		}
		utils.RespondWithError(w, h.log, err)
		return false
	}
	return true
}
