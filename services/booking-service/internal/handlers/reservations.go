package handlers

import (
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
)

type createReservationRequest struct {
	ClientID     string       `json:"client_id"`
	StylistID    string       `json:"stylist_id"`
	ServiceIDs   []string     `json:"service_ids"`
	Date         clock.Date   `json:"date"`
	Start        clock.Minute `json:"start"`
	Tip          float64      `json:"tip"`
	DiscountCode string       `json:"discount_code"`
	Notes        string       `json:"notes"`
}

// Reservations serves POST (create) and GET (lookup or listing) on the collection.
func (h *Handler) Reservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createReservation(w, r)
	case http.MethodGet:
		h.listReservations(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	res, err := h.bookings.Create(r.Context(), a, reservation.CreateRequest{
		ClientID:     req.ClientID,
		StylistID:    req.StylistID,
		ServiceIDs:   req.ServiceIDs,
		Date:         req.Date,
		Start:        req.Start,
		Tip:          req.Tip,
		DiscountCode: req.DiscountCode,
		Notes:        req.Notes,
		Source:       model.SourceDirect,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) listReservations(w http.ResponseWriter, r *http.Request) {
	a, ok := begin(w, r, http.MethodGet, nil)
	if !ok {
		return
	}
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		res, err := h.bookings.Get(r.Context(), a, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	var (
		items []model.Reservation
		err   error
	)
	if stylistID := q.Get("stylist_id"); stylistID != "" {
		items, err = h.bookings.ListForStylist(r.Context(), a, stylistID, clock.Date(q.Get("date")))
	} else {
		clientID := q.Get("client_id")
		if clientID == "" {
			clientID = a.ID
		}
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 || n > 500 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		items, err = h.bookings.ListForClient(r.Context(), a, clientID, limit)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type modifyReservationRequest struct {
	ReservationID string        `json:"reservation_id"`
	Date          *clock.Date   `json:"date"`
	Start         *clock.Minute `json:"start"`
	Notes         *string       `json:"notes"`
	Tip           *float64      `json:"tip"`
}

func (h *Handler) ModifyReservation(w http.ResponseWriter, r *http.Request) {
	var req modifyReservationRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	res, err := h.bookings.Modify(r.Context(), a, req.ReservationID, reservation.Changes{
		Date:  req.Date,
		Start: req.Start,
		Notes: req.Notes,
		Tip:   req.Tip,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cancelReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	var req cancelReservationRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	res, err := h.bookings.Cancel(r.Context(), a, req.ReservationID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reservationIDRequest struct {
	ReservationID string `json:"reservation_id"`
}

type transitionFunc func(h *Handler, r *http.Request, a model.Actor, id string) (model.Reservation, error)

// Transition builds the handler for a staff status change (confirm, start,
// complete, no-show).
func (h *Handler) Transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reservationIDRequest
		a, ok := begin(w, r, http.MethodPost, &req)
		if !ok {
			return
		}
		res, err := fn(h, r, a, req.ReservationID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

var (
	Confirm transitionFunc = func(h *Handler, r *http.Request, a model.Actor, id string) (model.Reservation, error) {
		return h.bookings.Confirm(r.Context(), a, id)
	}
	Start transitionFunc = func(h *Handler, r *http.Request, a model.Actor, id string) (model.Reservation, error) {
		return h.bookings.Start(r.Context(), a, id)
	}
	Complete transitionFunc = func(h *Handler, r *http.Request, a model.Actor, id string) (model.Reservation, error) {
		return h.bookings.Complete(r.Context(), a, id)
	}
	NoShow transitionFunc = func(h *Handler, r *http.Request, a model.Actor, id string) (model.Reservation, error) {
		return h.bookings.NoShow(r.Context(), a, id)
	}
)

type reviewRequest struct {
	ReservationID string `json:"reservation_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment"`
}

func (h *Handler) ReviewReservation(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	res, err := h.bookings.Review(r.Context(), a, req.ReservationID, req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
