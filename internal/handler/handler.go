// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/exjam-alumni/eventreg/internal/logger"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/service"
	"go.uber.org/zap"
)

// Handler holds all HTTP handlers for the registration API.
type Handler struct {
	events        *service.EventService
	capacity      *service.CapacityTracker
	registrations *service.RegistrationService
	promoter      *service.Promoter
	reconciler    *service.Reconciler
	checkIn       *service.CheckInService
	log           *zap.Logger
}

// Services bundles the service layer for NewHandler.
type Services struct {
	Events        *service.EventService
	Capacity      *service.CapacityTracker
	Registrations *service.RegistrationService
	Promoter      *service.Promoter
	Reconciler    *service.Reconciler
	CheckIn       *service.CheckInService
}

// NewHandler constructs a Handler.
func NewHandler(svc Services, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		events:        svc.Events,
		capacity:      svc.Capacity,
		registrations: svc.Registrations,
		promoter:      svc.Promoter,
		reconciler:    svc.Reconciler,
		checkIn:       svc.CheckIn,
		log:           log.Named("http"),
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps a service error onto a status code and error code.
// Unexpected errors are logged and reported generically.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, service.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "ALREADY_REGISTERED", "you are already registered for this event, view your registrations")
	case errors.Is(err, service.ErrAlreadyWaitlisted):
		writeError(w, http.StatusConflict, "ALREADY_WAITLISTED", "you are already on the waitlist for this event")
	case errors.Is(err, service.ErrEventNotPublished):
		writeError(w, http.StatusUnprocessableEntity, "EVENT_NOT_PUBLISHED", "event is not open for registration")
	case errors.Is(err, service.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature")
	case errors.Is(err, service.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid webhook payload")
	case errors.Is(err, service.ErrPaymentNotConfirmed):
		writeError(w, http.StatusPaymentRequired, "PAYMENT_NOT_CONFIRMED", "payment not confirmed")
	case errors.Is(err, service.ErrCapacityRace):
		writeError(w, http.StatusServiceUnavailable, "CAPACITY_RACE", "registration failed, please check availability and retry")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
	case errors.Is(err, service.ErrOfferExpired):
		writeError(w, http.StatusGone, "OFFER_EXPIRED", "waitlist offer has expired")
	case errors.Is(err, service.ErrInvalidQR):
		writeError(w, http.StatusBadRequest, "INVALID_QR", "invalid QR data")
	default:
		logger.WithContext(r.Context(), h.log).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
