package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

type freeSlotsResponse struct {
	StylistID       string         `json:"stylist_id"`
	Date            clock.Date     `json:"date"`
	DurationMinutes int            `json:"duration_minutes"`
	Starts          []clock.Minute `json:"starts"`
}

// FreeSlots lists start times at which the given services fit on the
// stylist's day.
func (h *Handler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	if _, ok := begin(w, r, http.MethodGet, nil); !ok {
		return
	}
	q := r.URL.Query()
	stylistID := q.Get("stylist_id")
	date, err := clock.ParseDate(q.Get("date"))
	if err != nil {
		h.writeError(w, r, apperr.Validation("%v", err))
		return
	}
	if stylistID == "" {
		h.writeError(w, r, apperr.Validation("stylist_id is required"))
		return
	}

	duration, err := h.duration(r.Context(), splitIDs(q.Get("service_ids")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var starts []clock.Minute
	err = h.store.View(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		starts, err = h.validator.FreeStarts(ctx, tx.Reservations(), stylistID, date, duration)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if starts == nil {
		starts = []clock.Minute{}
	}
	writeJSON(w, http.StatusOK, freeSlotsResponse{StylistID: stylistID, Date: date, DurationMinutes: duration, Starts: starts})
}

// CheckSlot runs the slot validator for one interval without booking it.
func (h *Handler) CheckSlot(w http.ResponseWriter, r *http.Request) {
	if _, ok := begin(w, r, http.MethodGet, nil); !ok {
		return
	}
	q := r.URL.Query()
	req := slots.Request{
		StylistID:            q.Get("stylist_id"),
		Date:                 clock.Date(q.Get("date")),
		ExcludeReservationID: q.Get("exclude_reservation_id"),
	}
	var err error
	if req.Start, err = clock.ParseMinute(q.Get("start")); err != nil {
		h.writeError(w, r, apperr.Validation("start: %v", err))
		return
	}
	if req.End, err = clock.ParseMinute(q.Get("end")); err != nil {
		h.writeError(w, r, apperr.Validation("end: %v", err))
		return
	}

	var res slots.Result
	err = h.store.View(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = h.validator.Validate(ctx, tx.Reservations(), req)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) duration(ctx context.Context, serviceIDs []string) (int, error) {
	if len(serviceIDs) == 0 {
		return 0, apperr.Validation("service_ids is required")
	}
	total := 0
	for _, id := range serviceIDs {
		svc, err := h.store.Catalog().Service(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return 0, apperr.NotFound("service %s not found", id)
			}
			return 0, err
		}
		if !svc.Active {
			return 0, apperr.NotFound("service %s not found", id)
		}
		total += svc.DurationMinutes
	}
	return total, nil
}
