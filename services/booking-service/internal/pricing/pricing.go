// Package pricing computes service prices and reservation totals.
package pricing

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

type Config struct {
	// PeakMultiplier applies to services that do not set their own.
	PeakMultiplier float64
	PeakHours      clock.Interval
	TaxRate        float64
}

func DefaultConfig() Config {
	return Config{
		PeakMultiplier: 1.2,
		PeakHours:      clock.Interval{Start: clock.MustMinute("17:00"), End: clock.MustMinute("20:00")},
		TaxRate:        0.08,
	}
}

type Breakdown struct {
	Base            float64 `json:"base"`
	LevelAdjustment float64 `json:"level_adjustment"`
	PeakAdjustment  float64 `json:"peak_adjustment"`
	Multiplier      float64 `json:"multiplier"`
	Peak            bool    `json:"peak"`
}

type Quote struct {
	Amount    float64   `json:"amount"`
	Breakdown Breakdown `json:"breakdown"`
}

// Engine holds no mutable state; the same inputs always price the same.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) Engine {
	def := DefaultConfig()
	if cfg.PeakMultiplier <= 0 {
		cfg.PeakMultiplier = def.PeakMultiplier
	}
	if !cfg.PeakHours.Valid() {
		cfg.PeakHours = def.PeakHours
	}
	return Engine{cfg: cfg}
}

func (e Engine) TaxRate() float64 { return e.cfg.TaxRate }

// Price quotes one service for a stylist level at a date and start time.
func (e Engine) Price(svc model.Service, level model.Level, date clock.Date, at clock.Minute) Quote {
	base := Round(svc.BasePrice)
	price := base
	if lp, ok := svc.LevelPrices[level]; ok {
		price = Round(lp)
	}

	q := Quote{Breakdown: Breakdown{
		Base:            base,
		LevelAdjustment: Round(price - base),
		Multiplier:      1,
	}}
	if e.IsPeak(date, at) {
		mult := svc.PeakMultiplier
		if mult <= 0 {
			mult = e.cfg.PeakMultiplier
		}
		peaked := Round(price * mult)
		q.Breakdown.Peak = true
		q.Breakdown.Multiplier = mult
		q.Breakdown.PeakAdjustment = Round(peaked - price)
		price = peaked
	}
	q.Amount = price
	return q
}

// IsPeak reports whether a start time falls in peak hours or on a weekend.
func (e Engine) IsPeak(date clock.Date, at clock.Minute) bool {
	if date.Weekend() {
		return true
	}
	return at >= e.cfg.PeakHours.Start && at < e.cfg.PeakHours.End
}

// Totals sums priced lines. Tax is charged on the discounted subtotal and
// discountPercent is a percentage of the subtotal.
func (e Engine) Totals(lines []model.ServiceLine, tip, discountPercent float64, code string) model.Pricing {
	subtotal := 0.0
	for _, l := range lines {
		subtotal += l.Price
	}
	subtotal = Round(subtotal)
	discount := Round(subtotal * discountPercent / 100)
	return e.withTip(model.Pricing{Subtotal: subtotal, Discount: discount, DiscountCode: code}, tip)
}

// WithTip recomputes tax and total for a new tip, keeping subtotal and discount.
func (e Engine) WithTip(p model.Pricing, tip float64) model.Pricing {
	return e.withTip(p, tip)
}

func (e Engine) withTip(p model.Pricing, tip float64) model.Pricing {
	p.Tip = Round(tip)
	p.Tax = Round((p.Subtotal - p.Discount) * e.cfg.TaxRate)
	p.Total = Round(p.Subtotal + p.Tax + p.Tip - p.Discount)
	return p
}

// Round rounds to the smallest currency unit, half away from zero.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

// Discounts maps referral codes to a percentage off the subtotal.
type Discounts map[string]float64

// ParseDiscounts reads "CODE:percent,CODE:percent".
func ParseDiscounts(raw string) (Discounts, error) {
	out := Discounts{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, pct, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid referral discount %q (want CODE:percent)", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || v <= 0 || v > 100 {
			return nil, fmt.Errorf("invalid referral discount percent %q", pct)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = v
	}
	return out, nil
}

// Lookup returns the percentage for code. An empty code means no discount.
func (d Discounts) Lookup(code string) (float64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, nil
	}
	pct, ok := d[code]
	if !ok {
		return 0, apperr.Validation("unknown referral code %q", code)
	}
	return pct, nil
}
