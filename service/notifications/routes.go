package notification

import (
	"net/http"
	"strconv"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NotificationHandler handles device registration and history
type NotificationHandler struct {
	store Store
	auth  *utils.Authenticator
	log   logrus.FieldLogger
}

func NewNotificationHandler(store Store, auth *utils.Authenticator, log logrus.FieldLogger) *NotificationHandler {
	return &NotificationHandler{store: store, auth: auth, log: log}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", h.auth.Wrap(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/devices", h.auth.Wrap(h.GetMyDevices)).Methods("GET")
	router.HandleFunc("/devices/{id:[0-9]+}", h.auth.Wrap(h.DeleteDevice)).Methods("DELETE")
	router.HandleFunc("/notifications/history", h.auth.Wrap(h.GetMyHistory)).Methods("GET")
}

// RegisterDevice registers the caller's device for push notifications
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	var device models.Device
	if err := utils.DecodeJSON(r, &device); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if device.Token == "" {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "token is required"))
		return
	}
	if !ValidToken(device.Token) {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "Invalid Expo push token format"))
		return
	}
	device.UserID = userID

	if err := h.store.UpsertDevice(r.Context(), &device); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Device registered successfully", device)
}

func (h *NotificationHandler) GetMyDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}
	devices, err := h.store.DevicesForUser(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, devices)
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}
	deviceID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "Invalid device ID"))
		return
	}

	if err := h.store.DeleteDevice(r.Context(), uint(deviceID), userID); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Device deleted successfully", nil)
}

func (h *NotificationHandler) GetMyHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	history, total, err := h.store.History(r.Context(), userID, limit, (page-1)*limit)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{
		Success: true,
		Data:    history,
		Meta:    map[string]interface{}{"total": total, "page": page, "limit": limit},
	})
}
