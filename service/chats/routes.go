package chats

import (
	"errors"
	"net/http"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const tokenTTL = 24 * time.Hour

type ChatHandler struct {
	rooms Rooms
	auth  *utils.Authenticator
	log   logrus.FieldLogger
}

func NewChatHandler(rooms Rooms, auth *utils.Authenticator, log logrus.FieldLogger) *ChatHandler {
	return &ChatHandler{rooms: rooms, auth: auth, log: log}
}

func (h *ChatHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chats/token", h.auth.Wrap(h.GetToken)).Methods("GET")
}

// GetToken issues a chat client token for the caller.
func (h *ChatHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	token, err := h.rooms.UserToken(userID, tokenTTL)
	if errors.Is(err, ErrDisabled) {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindProviderUnavailable, "chat is not enabled"))
		return
	}
	if err != nil {
		utils.RespondWithError(w, h.log, utils.WrapError(utils.KindProviderUnavailable, "could not issue chat token", err))
		return
	}
	utils.RespondWithData(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": time.Now().Add(tokenTTL),
	})
}
