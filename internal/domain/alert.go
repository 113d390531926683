package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind enumerates the supported trigger conditions.
type AlertKind string

const (
	KindPriceAbove       AlertKind = "price_above"
	KindPriceBelow       AlertKind = "price_below"
	KindPercentChange    AlertKind = "percent_change"
	KindPredictionExpiry AlertKind = "prediction_expiry"
	KindPortfolioValue   AlertKind = "portfolio_value"
	KindTechnical        AlertKind = "technical"
	KindPattern          AlertKind = "pattern"
)

// PriceKinds are the kinds evaluated by the minutely price sweep.
var PriceKinds = []AlertKind{KindPriceAbove, KindPriceBelow, KindPercentChange}

func (k AlertKind) Valid() bool {
	switch k {
	case KindPriceAbove, KindPriceBelow, KindPercentChange,
		KindPredictionExpiry, KindPortfolioValue, KindTechnical, KindPattern:
		return true
	}
	return false
}

// AlertStatus is the alert lifecycle state. Only the evaluation sweep moves an
// alert out of StatusActive; a non-recurring alert never returns to active
// without an explicit external reset.
type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusTriggered AlertStatus = "triggered"
	StatusExpired   AlertStatus = "expired"
	StatusCancelled AlertStatus = "cancelled"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTriggered, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is an end state eligible for cleanup.
func (s AlertStatus) Terminal() bool {
	return s == StatusTriggered || s == StatusExpired || s == StatusCancelled
}

// ConditionDirection applies to portfolio_value alerts.
const (
	ConditionAbove = "above"
	ConditionBelow = "below"
)

// Alert is a persisted, user-owned trigger condition evaluated against the
// price stream. Thresholds are decimals so predicate comparisons do not
// depend on float formatting of user input.
type Alert struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Symbol    string      `json:"symbol"`
	Asset     AssetType   `json:"assetType"`
	Kind      AlertKind   `json:"kind"`
	Status    AlertStatus `json:"status"`

	TargetPrice        decimal.Decimal `json:"targetPrice"`
	PercentChange      decimal.Decimal `json:"percentChange"`
	BasePrice          decimal.Decimal `json:"basePrice"`
	PortfolioThreshold decimal.Decimal `json:"portfolioThreshold"`
	Condition          string          `json:"condition,omitempty"` // portfolio_value: above|below

	Timeframe     string `json:"timeframe,omitempty"`
	NotifyVia     string `json:"notifyVia,omitempty"`
	CustomMessage string `json:"customMessage,omitempty"`

	Recurring bool `json:"recurring"`
	// Armed gates recurring alerts: a recurring threshold alert fires once per
	// crossing and re-arms only after the predicate has read false again.
	Armed bool `json:"-"`

	CurrentPrice   float64    `json:"currentPrice"`
	LastCheckedAt  *time.Time `json:"lastCheckedAt,omitempty"`
	CheckCount     int        `json:"checkCount"`
	TriggeredAt    *time.Time `json:"triggeredAt,omitempty"`
	TriggeredPrice float64    `json:"triggeredPrice,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsExpired reports whether the alert's expiry has passed.
func (a *Alert) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// PredicateHolds evaluates the raw price condition without considering
// status or arming.
func (a *Alert) PredicateHolds(price float64) bool {
	cur := decimal.NewFromFloat(price)
	switch a.Kind {
	case KindPriceAbove:
		return cur.GreaterThanOrEqual(a.TargetPrice)
	case KindPriceBelow:
		return cur.LessThanOrEqual(a.TargetPrice)
	case KindPercentChange:
		if a.BasePrice.IsZero() {
			return false
		}
		change := cur.Sub(a.BasePrice).Div(a.BasePrice).Mul(decimal.NewFromInt(100))
		return change.Abs().GreaterThanOrEqual(a.PercentChange.Abs())
	}
	return false
}

// ShouldTrigger reports whether the alert fires for the given price. Only
// active, armed alerts fire, which makes the triggered transition idempotent
// across sweeps.
func (a *Alert) ShouldTrigger(price float64) bool {
	if a.Status != StatusActive || !a.Armed {
		return false
	}
	return a.PredicateHolds(price)
}

// Trigger performs the triggered transition. Non-recurring alerts leave the
// active status for good; recurring alerts stay active but disarm until the
// predicate reads false again (percent_change resets its base instead).
func (a *Alert) Trigger(price float64, now time.Time) {
	a.TriggeredAt = &now
	a.TriggeredPrice = price
	a.CurrentPrice = price
	a.UpdatedAt = now

	if !a.Recurring {
		a.Status = StatusTriggered
		return
	}
	a.Armed = false
	if a.Kind == KindPercentChange {
		a.BasePrice = decimal.NewFromFloat(price)
		a.Armed = true
	}
}

// Touch records one evaluation pass, the liveness signal that the sweep is
// functioning even when nothing fires.
func (a *Alert) Touch(price float64, now time.Time) {
	a.CurrentPrice = price
	a.LastCheckedAt = &now
	a.CheckCount++
	a.UpdatedAt = now
}

// Rearm re-enables a disarmed recurring alert once its predicate no longer
// holds.
func (a *Alert) Rearm(price float64) {
	if a.Recurring && !a.Armed && !a.PredicateHolds(price) {
		a.Armed = true
	}
}

// Expire marks an active alert whose expiry window has passed.
func (a *Alert) Expire(now time.Time) {
	a.Status = StatusExpired
	a.UpdatedAt = now
}

// Cancel is the soft delete used by the REST surface.
func (a *Alert) Cancel(now time.Time) {
	a.Status = StatusCancelled
	a.UpdatedAt = now
}
