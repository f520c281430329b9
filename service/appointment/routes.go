package appointment

import (
	"net/http"
	"strconv"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// AppointmentHandler exposes booking and lifecycle endpoints.
type AppointmentHandler struct {
	scheduler *Scheduler
	auth      *utils.Authenticator
	log       logrus.FieldLogger
}

func NewAppointmentHandler(scheduler *Scheduler, auth *utils.Authenticator, log logrus.FieldLogger) *AppointmentHandler {
	return &AppointmentHandler{scheduler: scheduler, auth: auth, log: log}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments", h.auth.Wrap(h.CreateAppointment)).Methods("POST")
	router.HandleFunc("/appointments/{id:[0-9]+}", h.auth.Wrap(h.GetAppointment)).Methods("GET")
	router.HandleFunc("/appointments/patient/{patientId:[0-9]+}", h.auth.Wrap(h.GetPatientAppointments)).Methods("GET")
	router.HandleFunc("/appointments/doctor/{doctorId:[0-9]+}", h.auth.Wrap(h.GetDoctorAppointments)).Methods("GET")
	router.HandleFunc("/appointments/{id:[0-9]+}/cancel", h.auth.Wrap(h.CancelAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id:[0-9]+}/complete", h.auth.Wrap(h.CompleteAppointment)).Methods("PATCH")
}

// CreateAppointment books a slot. Patients book for themselves; admins may
// book on behalf of any patient.
func (h *AppointmentHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	var req BookingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if req.PatientID == 0 && !actor.IsAdmin() {
		req.PatientID = actor.UserID
	}

	booking, err := h.scheduler.Book(r.Context(), actor, req)
	if err != nil {
		if stage, ok := FailedStage(err); ok && utils.AsAppError(err) == nil {
			h.log.WithError(err).WithField("stage", stage).Error("booking failed")
		}
		utils.RespondWithError(w, h.log, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"appointment_id": booking.Appointment.ID,
		"doctor_id":      booking.Appointment.DoctorID,
		"patient_id":     booking.Appointment.PatientID,
		"start":          booking.Appointment.StartTime,
	}).Info("appointment booked")
	utils.RespondWithMessage(w, http.StatusCreated, "Appointment booked successfully", booking)
}

func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.scheduler.Get(r.Context(), actor, id)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) GetPatientAppointments(w http.ResponseWriter, r *http.Request) {
	actor, patientID, ok := h.actorAndID(w, r, "patientId")
	if !ok {
		return
	}
	appts, err := h.scheduler.ListForPatient(r.Context(), actor, patientID, r.URL.Query().Get("status"))
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, appts)
}

func (h *AppointmentHandler) GetDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	actor, doctorID, ok := h.actorAndID(w, r, "doctorId")
	if !ok {
		return
	}
	appts, err := h.scheduler.ListForDoctor(r.Context(), actor, doctorID, r.URL.Query().Get("status"))
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, appts)
}

func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.scheduler.Cancel(r.Context(), actor, id)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Appointment cancelled", appt)
}

func (h *AppointmentHandler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.scheduler.Complete(r.Context(), actor, id)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Appointment completed", appt)
}

func (h *AppointmentHandler) actorAndID(w http.ResponseWriter, r *http.Request, param string) (Actor, uint, bool) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return Actor{}, 0, false
	}
	id, err := strconv.ParseUint(mux.Vars(r)[param], 10, 64)
	if err != nil || id == 0 {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "invalid %s", param))
		return Actor{}, 0, false
	}
	return actor, uint(id), true
}

// ActorFromRequest reads the authenticated identity set by the auth middleware.
func ActorFromRequest(r *http.Request) (Actor, error) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		return Actor{}, utils.NewError(utils.KindUnauthorized, "authentication required")
	}
	role := utils.GetUserRoleFromContext(r)
	if role == "" {
		role = models.RolePatient
	}
	return Actor{UserID: userID, Role: role}, nil
}
