package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures that reach an HTTP client.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindPastOrTooSoon       ErrorKind = "past_or_too_soon"
	KindDoctorUnavailable   ErrorKind = "doctor_unavailable"
	KindSlotNotOffered      ErrorKind = "slot_not_offered"
	KindSlotTaken           ErrorKind = "slot_taken"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindCallEnded           ErrorKind = "call_ended"
	KindCallNotFound        ErrorKind = "call_not_found"
	KindAppointmentNotFound ErrorKind = "appointment_not_found"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindInternal            ErrorKind = "internal_error"
)

var kindStatus = map[ErrorKind]int{
	KindValidation:          http.StatusBadRequest,
	KindPastOrTooSoon:       http.StatusUnprocessableEntity,
	KindDoctorUnavailable:   http.StatusUnprocessableEntity,
	KindSlotNotOffered:      http.StatusUnprocessableEntity,
	KindSlotTaken:           http.StatusConflict,
	KindQuotaExceeded:       http.StatusPaymentRequired,
	KindCallEnded:           http.StatusGone,
	KindCallNotFound:        http.StatusNotFound,
	KindAppointmentNotFound: http.StatusNotFound,
	KindNotFound:            http.StatusNotFound,
	KindInvalidTransition:   http.StatusConflict,
	KindProviderUnavailable: http.StatusServiceUnavailable,
	KindUnauthorized:        http.StatusForbidden,
	KindInternal:            http.StatusInternalServerError,
}

// AppError carries a kind and a message that is safe to show to users.
type AppError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError of the same kind, so errors.Is(err, ErrSlotTaken) works
// regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Kind == e.Kind
}

// Status returns the HTTP status for the error's kind.
func (e *AppError) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

var (
	ErrValidation          = &AppError{Kind: KindValidation, Message: "invalid request"}
	ErrPastOrTooSoon       = &AppError{Kind: KindPastOrTooSoon, Message: "appointment must start at least 5 minutes from now"}
	ErrDoctorUnavailable   = &AppError{Kind: KindDoctorUnavailable, Message: "doctor is not available on this day"}
	ErrSlotNotOffered      = &AppError{Kind: KindSlotNotOffered, Message: "requested time is not one of the doctor's slots"}
	ErrSlotTaken           = &AppError{Kind: KindSlotTaken, Message: "this time slot is already booked"}
	ErrQuotaExceeded       = &AppError{Kind: KindQuotaExceeded, Message: "usage limit reached"}
	ErrCallEnded           = &AppError{Kind: KindCallEnded, Message: "call has already ended"}
	ErrCallNotFound        = &AppError{Kind: KindCallNotFound, Message: "call not found"}
	ErrAppointmentNotFound = &AppError{Kind: KindAppointmentNotFound, Message: "appointment not found"}
	ErrNotFound            = &AppError{Kind: KindNotFound, Message: "resource not found"}
	ErrInvalidTransition   = &AppError{Kind: KindInvalidTransition, Message: "operation not allowed in the current state"}
	ErrProviderUnavailable = &AppError{Kind: KindProviderUnavailable, Message: "call service is temporarily unavailable, please retry"}
	ErrUnauthorized        = &AppError{Kind: KindUnauthorized, Message: "you are not a participant of this resource"}
)

// NewError builds an AppError with a custom message.
func NewError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a kind while keeping a user-safe message.
func WrapError(kind ErrorKind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// AsAppError extracts the AppError from err, or nil.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
