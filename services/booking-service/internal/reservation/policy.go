package reservation

import (
	"strconv"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

var transitions = map[model.ReservationStatus][]model.ReservationStatus{
	model.StatusPending:    {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:  {model.StatusInProgress, model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
	model.StatusInProgress: {model.StatusCompleted, model.StatusNoShow},
}

func canTransition(from, to model.ReservationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// authorize lets clients and stylists act on their own reservations.
func authorize(actor model.Actor, r model.Reservation) error {
	switch {
	case actor.Privileged():
		return nil
	case actor.Role == model.RoleClient && actor.ID == r.ClientID:
		return nil
	case actor.Role == model.RoleStylist && actor.ID == r.StylistID:
		return nil
	}
	return apperr.Forbidden("%s %s may not act on reservation %s", actor.Role, actor.ID, r.ID)
}

// authorizeStaff guards moves past pending: the reservation's stylist or an admin.
func authorizeStaff(actor model.Actor, r model.Reservation) error {
	if actor.Privileged() || (actor.Role == model.RoleStylist && actor.ID == r.StylistID) {
		return nil
	}
	return apperr.Forbidden("only the stylist or an admin may update reservation %s", r.ID)
}

func authorizeCreate(actor model.Actor, req *CreateRequest) error {
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return nil
	case model.RoleClient:
		if req.ClientID == "" {
			req.ClientID = actor.ID
		}
		if req.ClientID == actor.ID {
			return nil
		}
	case model.RoleStylist:
		if req.StylistID == actor.ID {
			return nil
		}
	}
	return apperr.Forbidden("%s %s may not book for client %s", actor.Role, actor.ID, req.ClientID)
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
