package handlers

import "net/http"

// Guard authenticates a route. When roles are given the caller must hold one
// of them.
type Guard func(next http.Handler, roles ...string) http.Handler

// Register mounts the booking API on mux. The Stripe webhook is mounted
// without a guard; its signature is checked instead.
func (h *Handler) Register(mux *http.ServeMux, guard Guard) {
	route := func(path string, fn http.HandlerFunc, roles ...string) {
		mux.Handle(path, guard(fn, roles...))
	}
	staff := []string{"stylist", "admin"}

	route("/api/v1/reservations", h.Reservations)
	route("/api/v1/reservations/modify", h.ModifyReservation)
	route("/api/v1/reservations/cancel", h.CancelReservation)
	route("/api/v1/reservations/confirm", h.Transition(Confirm), staff...)
	route("/api/v1/reservations/start", h.Transition(Start), staff...)
	route("/api/v1/reservations/complete", h.Transition(Complete), staff...)
	route("/api/v1/reservations/no-show", h.Transition(NoShow), staff...)
	route("/api/v1/reservations/review", h.ReviewReservation)

	route("/api/v1/slots", h.FreeSlots)
	route("/api/v1/slots/check", h.CheckSlot)

	route("/api/v1/waitlist", h.Waitlist)
	route("/api/v1/waitlist/join", h.JoinWaitlist)
	route("/api/v1/waitlist/respond", h.RespondToOffer)
	route("/api/v1/waitlist/cancel", h.CancelWaitlistEntry)
	route("/api/v1/waitlist/offer", h.MakeOffer, "admin")

	mux.HandleFunc("/api/v1/webhooks/stripe", h.StripeWebhook)
}
