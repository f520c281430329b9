package user

import (
	"net/http"
	"strconv"

	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	store Store
	auth  *utils.Authenticator
	log   logrus.FieldLogger
}

func NewHandler(store Store, auth *utils.Authenticator, log logrus.FieldLogger) *Handler {
	return &Handler{store: store, auth: auth, log: log}
}

// RegisterRoutes sets up the read-only user directory
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/me", h.auth.Wrap(h.GetMe)).Methods("GET")
	router.HandleFunc("/doctors", h.auth.Wrap(h.GetDoctors)).Methods("GET")
	router.HandleFunc("/doctors/{id:[0-9]+}", h.auth.Wrap(h.GetDoctor)).Methods("GET")
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}
	u, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, u)
}

func (h *Handler) GetDoctors(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	doctors, total, err := h.store.ListDoctors(r.Context(), r.URL.Query().Get("specialization"), pageSize, (page-1)*pageSize)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{
		Success: true,
		Data:    doctors,
		Meta:    map[string]interface{}{"total": total, "page": page, "page_size": pageSize},
	})
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "Invalid doctor ID"))
		return
	}
	u, err := h.store.GetUser(r.Context(), uint(id))
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if !u.IsDoctor() {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindNotFound, "Doctor not found"))
		return
	}
	utils.RespondWithData(w, http.StatusOK, u)
}
