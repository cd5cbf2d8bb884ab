package model

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
)

type WaitlistStatus string

const (
	WaitlistActive    WaitlistStatus = "active"
	WaitlistOffered   WaitlistStatus = "offered"
	WaitlistAccepted  WaitlistStatus = "accepted"
	WaitlistDeclined  WaitlistStatus = "declined"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

func (s WaitlistStatus) Open() bool {
	return s == WaitlistActive || s == WaitlistOffered
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityVIP    Priority = "vip"
)

// Rank orders priorities; higher is served first. Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityVIP:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityVIP:
		return true
	}
	return false
}

// Preferences describe which slots a waiting client would take.
type Preferences struct {
	Date              clock.Date      `json:"date"`
	Start             clock.Minute    `json:"start"`
	FlexibleDates     []clock.Date    `json:"flexible_dates,omitempty"`
	FlexibleTimes     []clock.Minute  `json:"flexible_times,omitempty"`
	TimeRange         *clock.Interval `json:"time_range,omitempty"`
	AlternateStylists []string        `json:"alternate_stylists,omitempty"`
}

type OfferResponse string

const (
	OfferPending  OfferResponse = "pending"
	OfferAccepted OfferResponse = "accepted"
	OfferDeclined OfferResponse = "declined"
	OfferExpired  OfferResponse = "expired"
)

type Offer struct {
	Slot Slot `json:"slot"`
	// Freed is the released slot the offer was cut from.
	Freed     Slot      `json:"freed"`
	OfferedAt time.Time `json:"offered_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OfferRecord struct {
	Offer
	Response      OfferResponse `json:"response"`
	RespondedAt   *time.Time    `json:"responded_at,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	ReservationID string        `json:"reservation_id,omitempty"`
}

type WaitlistEntry struct {
	ID              string         `json:"id"`
	ClientID        string         `json:"client_id"`
	StylistID       string         `json:"stylist_id"`
	ServiceIDs      []string       `json:"service_ids"`
	DurationMinutes int            `json:"duration_minutes"`
	Preferences     Preferences    `json:"preferences"`
	Status          WaitlistStatus `json:"status"`
	Priority        Priority       `json:"priority"`
	Position        int            `json:"position"`
	CurrentOffer    *Offer         `json:"current_offer,omitempty"`
	Offers          []OfferRecord  `json:"offers,omitempty"`
	ReservationID   string         `json:"reservation_id,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	AddedAt         time.Time      `json:"added_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Wants reports whether stylistID is the entry's stylist or one of its alternates.
func (e WaitlistEntry) Wants(stylistID string) bool {
	if e.StylistID == stylistID {
		return true
	}
	for _, id := range e.Preferences.AlternateStylists {
		if id == stylistID {
			return true
		}
	}
	return false
}

// LatestOffer returns the most recent offer record, or nil.
func (e *WaitlistEntry) LatestOffer() *OfferRecord {
	if len(e.Offers) == 0 {
		return nil
	}
	return &e.Offers[len(e.Offers)-1]
}

// PassedOn reports whether the entry already declined or let lapse an offer of slot.
func (e WaitlistEntry) PassedOn(slot Slot) bool {
	for _, o := range e.Offers {
		if o.Slot.Equal(slot) && (o.Response == OfferDeclined || o.Response == OfferExpired) {
			return true
		}
	}
	return false
}

func (e WaitlistEntry) Clone() WaitlistEntry {
	c := e
	c.ServiceIDs = append([]string(nil), e.ServiceIDs...)
	c.Preferences.FlexibleDates = append([]clock.Date(nil), e.Preferences.FlexibleDates...)
	c.Preferences.FlexibleTimes = append([]clock.Minute(nil), e.Preferences.FlexibleTimes...)
	c.Preferences.AlternateStylists = append([]string(nil), e.Preferences.AlternateStylists...)
	if e.Preferences.TimeRange != nil {
		tr := *e.Preferences.TimeRange
		c.Preferences.TimeRange = &tr
	}
	if e.CurrentOffer != nil {
		o := *e.CurrentOffer
		c.CurrentOffer = &o
	}
	c.Offers = make([]OfferRecord, len(e.Offers))
	for i, o := range e.Offers {
		c.Offers[i] = o
		c.Offers[i].RespondedAt = cloneTime(o.RespondedAt)
	}
	return c
}
