package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/offers"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/waitlist"
)

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

type Handler struct {
	store     storage.Store
	bookings  *reservation.Service
	queue     *waitlist.Queue
	offers    *offers.Scheduler
	validator *slots.Validator
	// providerEvents dedupes Stripe webhook deliveries.
	providerEvents inbox.Recorder
	logger         *slog.Logger

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(store storage.Store, bookings *reservation.Service, queue *waitlist.Queue, scheduler *offers.Scheduler, validator *slots.Validator, providerEvents inbox.Recorder, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 5 * time.Minute
	}
	return &Handler{
		store:                  store,
		bookings:               bookings,
		queue:                  queue,
		offers:                 scheduler,
		validator:              validator,
		providerEvents:         providerEvents,
		logger:                 logger,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: cfg.StripeWebhookTolerance,
	}
}

// actor reads the caller set by the auth middleware.
func actor(r *http.Request) (model.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(httpx.UserIDHeader))
	role := model.Role(strings.TrimSpace(r.Header.Get(httpx.RoleHeader)))
	if id == "" {
		return model.Actor{}, false
	}
	switch role {
	case model.RoleClient, model.RoleStylist, model.RoleAdmin:
		return model.Actor{ID: id, Role: role}, true
	}
	return model.Actor{}, false
}

// begin checks the method, resolves the caller and decodes a JSON body into
// dst when dst is not nil. It writes the error response itself.
func begin(w http.ResponseWriter, r *http.Request, method string, dst any) (model.Actor, bool) {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return model.Actor{}, false
	}
	a, ok := actor(r)
	if !ok {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return model.Actor{}, false
	}
	if dst != nil {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return model.Actor{}, false
		}
	}
	return a, true
}

type errorResponse struct {
	Error     string           `json:"error"`
	Reason    string           `json:"reason,omitempty"`
	Conflicts []model.Conflict `json:"conflicts,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *apperr.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "slot unavailable", Reason: conflict.Reason, Conflicts: conflict.Conflicts})
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, apperr.ErrAuthorization):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, apperr.ErrExpiredOffer):
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error()})
	case errors.Is(err, apperr.ErrState), errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		http.Error(w, "request timed out", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", "err", err, "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
