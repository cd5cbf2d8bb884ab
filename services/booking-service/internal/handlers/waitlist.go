package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/waitlist"
)

type joinWaitlistRequest struct {
	ClientID    string            `json:"client_id"`
	StylistID   string            `json:"stylist_id"`
	ServiceIDs  []string          `json:"service_ids"`
	Preferences model.Preferences `json:"preferences"`
	Priority    model.Priority    `json:"priority"`
	Notes       string            `json:"notes"`
}

func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req joinWaitlistRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	entry, err := h.queue.Join(r.Context(), a, waitlist.JoinRequest{
		ClientID:    req.ClientID,
		StylistID:   req.StylistID,
		ServiceIDs:  req.ServiceIDs,
		Preferences: req.Preferences,
		Priority:    req.Priority,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type respondRequest struct {
	EntryID string `json:"entry_id"`
	Accept  bool   `json:"accept"`
	Reason  string `json:"reason"`
}

type acceptResponse struct {
	Entry       model.WaitlistEntry `json:"entry"`
	Reservation model.Reservation   `json:"reservation"`
}

// RespondToOffer accepts or declines the entry's outstanding offer.
func (h *Handler) RespondToOffer(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	if !req.Accept {
		entry, err := h.offers.Decline(r.Context(), a, req.EntryID, req.Reason)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}
	entry, res, err := h.offers.Accept(r.Context(), a, req.EntryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Entry: entry, Reservation: res})
}

type cancelEntryRequest struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

func (h *Handler) CancelWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	var req cancelEntryRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	entry, err := h.offers.Cancel(r.Context(), a, req.EntryID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type makeOfferRequest struct {
	EntryID string     `json:"entry_id"`
	Slot    model.Slot `json:"slot"`
}

// MakeOffer lets an admin offer a specific slot to a specific entry.
func (h *Handler) MakeOffer(w http.ResponseWriter, r *http.Request) {
	var req makeOfferRequest
	a, ok := begin(w, r, http.MethodPost, &req)
	if !ok {
		return
	}
	entry, err := h.offers.MakeOffer(r.Context(), a, req.EntryID, req.Slot)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) Waitlist(w http.ResponseWriter, r *http.Request) {
	a, ok := begin(w, r, http.MethodGet, nil)
	if !ok {
		return
	}
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		entry, err := h.queue.Get(r.Context(), a, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}

	var (
		items []model.WaitlistEntry
		err   error
	)
	if stylistID := q.Get("stylist_id"); stylistID != "" {
		items, err = h.queue.List(r.Context(), a, stylistID)
	} else {
		clientID := q.Get("client_id")
		if clientID == "" {
			clientID = a.ID
		}
		items, err = h.queue.ListForClient(r.Context(), a, clientID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
