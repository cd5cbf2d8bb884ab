package model

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
)

type ReservationStatus string

const (
	StatusPending    ReservationStatus = "pending"
	StatusConfirmed  ReservationStatus = "confirmed"
	StatusInProgress ReservationStatus = "in_progress"
	StatusCompleted  ReservationStatus = "completed"
	StatusCancelled  ReservationStatus = "cancelled"
	StatusNoShow     ReservationStatus = "no_show"
)

// ActiveStatuses hold their slot; no two of a stylist's active reservations may overlap.
var ActiveStatuses = []ReservationStatus{StatusPending, StatusConfirmed, StatusInProgress}

func (s ReservationStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type Source string

const (
	SourceDirect   Source = "direct"
	SourceWaitlist Source = "waitlist"
)

type PaymentStatus string

const (
	PaymentUnpaid       PaymentStatus = "unpaid"
	PaymentPaid         PaymentStatus = "paid"
	PaymentRefunded     PaymentStatus = "refunded"
	PaymentRefundFailed PaymentStatus = "refund_failed"
)

type ServiceLine struct {
	ServiceID       string  `json:"service_id"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

type Pricing struct {
	Subtotal     float64 `json:"subtotal"`
	Tax          float64 `json:"tax"`
	Tip          float64 `json:"tip"`
	Discount     float64 `json:"discount"`
	Total        float64 `json:"total"`
	DiscountCode string  `json:"discount_code,omitempty"`
}

type Payment struct {
	Status   PaymentStatus `json:"status"`
	IntentID string        `json:"intent_id,omitempty"`
	Amount   float64       `json:"amount,omitempty"`
	PaidAt   *time.Time    `json:"paid_at,omitempty"`
	RefundID string        `json:"refund_id,omitempty"`
}

type Cancellation struct {
	By             string    `json:"by"`
	Role           Role      `json:"role"`
	At             time.Time `json:"at"`
	Reason         string    `json:"reason,omitempty"`
	HoursBefore    float64   `json:"hours_before"`
	WithinPolicy   bool      `json:"within_policy"`
	RefundEligible bool      `json:"refund_eligible"`
}

type Review struct {
	Rating  int       `json:"rating"`
	Comment string    `json:"comment,omitempty"`
	At      time.Time `json:"at"`
}

// AuditEntry is one line of a reservation's append-only history.
type AuditEntry struct {
	Action string            `json:"action"`
	Actor  string            `json:"actor"`
	At     time.Time         `json:"at"`
	Detail map[string]string `json:"detail,omitempty"`
}

type Reservation struct {
	ID              string            `json:"id"`
	ClientID        string            `json:"client_id"`
	StylistID       string            `json:"stylist_id"`
	Services        []ServiceLine     `json:"services"`
	Date            clock.Date        `json:"date"`
	Start           clock.Minute      `json:"start"`
	End             clock.Minute      `json:"end"`
	Status          ReservationStatus `json:"status"`
	Source          Source            `json:"source"`
	WaitlistEntryID string            `json:"waitlist_entry_id,omitempty"`
	Pricing         Pricing           `json:"pricing"`
	Payment         Payment           `json:"payment"`
	Notes           string            `json:"notes,omitempty"`
	Cancellation    *Cancellation     `json:"cancellation,omitempty"`
	Review          *Review           `json:"review,omitempty"`
	CheckedInAt     *time.Time        `json:"checked_in_at,omitempty"`
	CheckedOutAt    *time.Time        `json:"checked_out_at,omitempty"`
	Audit           []AuditEntry      `json:"audit"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (r Reservation) Interval() clock.Interval {
	return clock.Interval{Start: r.Start, End: r.End}
}

func (r Reservation) Slot() Slot {
	return Slot{StylistID: r.StylistID, Date: r.Date, Start: r.Start, End: r.End}
}

func (r Reservation) DurationMinutes() int {
	total := 0
	for _, s := range r.Services {
		total += s.DurationMinutes
	}
	return total
}

func (r Reservation) ServiceIDs() []string {
	ids := make([]string, 0, len(r.Services))
	for _, s := range r.Services {
		ids = append(ids, s.ServiceID)
	}
	return ids
}

// Record appends an audit entry and bumps UpdatedAt.
func (r *Reservation) Record(action, actor string, at time.Time, detail map[string]string) {
	r.Audit = append(r.Audit, AuditEntry{Action: action, Actor: actor, At: at, Detail: detail})
	r.UpdatedAt = at
}

// Clone returns a copy that shares no slices or pointers with r.
func (r Reservation) Clone() Reservation {
	c := r
	c.Services = append([]ServiceLine(nil), r.Services...)
	c.Audit = make([]AuditEntry, len(r.Audit))
	for i, a := range r.Audit {
		c.Audit[i] = a
		if a.Detail != nil {
			c.Audit[i].Detail = make(map[string]string, len(a.Detail))
			for k, v := range a.Detail {
				c.Audit[i].Detail[k] = v
			}
		}
	}
	if r.Cancellation != nil {
		cc := *r.Cancellation
		c.Cancellation = &cc
	}
	if r.Review != nil {
		rv := *r.Review
		c.Review = &rv
	}
	c.CheckedInAt = cloneTime(r.CheckedInAt)
	c.CheckedOutAt = cloneTime(r.CheckedOutAt)
	c.Payment.PaidAt = cloneTime(r.Payment.PaidAt)
	return c
}

// Conflict names an existing reservation that overlaps a requested slot.
type Conflict struct {
	ReservationID string       `json:"reservation_id"`
	Start         clock.Minute `json:"start"`
	End           clock.Minute `json:"end"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
