package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Response is the envelope every endpoint writes.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func RespondWithData(w http.ResponseWriter, code int, data interface{}) {
	RespondWithJSON(w, code, Response{Success: true, Data: data})
}

func RespondWithMessage(w http.ResponseWriter, code int, message string, data interface{}) {
	RespondWithJSON(w, code, Response{Success: true, Message: message, Data: data})
}

// RespondWithError writes {success:false, message}. Unknown errors are logged
// and replaced by a generic message.
func RespondWithError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	appErr := AsAppError(err)
	if appErr == nil {
		log.WithError(err).Error("request failed")
		RespondWithJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Message: "something went wrong, please try again later",
		})
		return
	}
	if appErr.Cause != nil {
		log.WithError(appErr.Cause).WithField("kind", appErr.Kind).Warn(appErr.Message)
	}
	RespondWithJSON(w, appErr.Status(), Response{Success: false, Message: appErr.Message})
}

// DecodeJSON reads the request body into v, reporting a ValidationError on failure.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return WrapError(KindValidation, "invalid request body", err)
	}
	return nil
}
