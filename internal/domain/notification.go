package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is the persisted record of an alert trigger. Delivery over
// email or push is an external concern; this record only captures that and
// what to notify.
type Notification struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

const notificationTTL = 30 * 24 * time.Hour

// NewAlertNotification builds the notification created atomically with an
// alert's triggered transition.
func NewAlertNotification(a *Alert, price float64, now time.Time) *Notification {
	title := fmt.Sprintf("%s alert triggered", a.Symbol)
	msg := a.CustomMessage
	if msg == "" {
		switch a.Kind {
		case KindPriceAbove:
			msg = fmt.Sprintf("%s reached %.8g (target %s)", a.Symbol, price, a.TargetPrice)
		case KindPriceBelow:
			msg = fmt.Sprintf("%s dropped to %.8g (target %s)", a.Symbol, price, a.TargetPrice)
		case KindPercentChange:
			msg = fmt.Sprintf("%s moved %s%% from %s (now %.8g)", a.Symbol, a.PercentChange, a.BasePrice, price)
		case KindPredictionExpiry:
			msg = fmt.Sprintf("prediction for %s is about to expire", a.Symbol)
		case KindPortfolioValue:
			msg = fmt.Sprintf("portfolio value crossed %s", a.PortfolioThreshold)
		default:
			msg = fmt.Sprintf("%s condition met", a.Symbol)
		}
	}

	expires := now.Add(notificationTTL)
	return &Notification{
		ID:      uuid.NewString(),
		Owner:   a.Owner,
		Type:    "alert_" + string(a.Kind),
		Title:   title,
		Message: msg,
		Data: map[string]string{
			"alertId": a.ID,
			"symbol":  a.Symbol,
			"kind":    string(a.Kind),
			"price":   fmt.Sprintf("%.8g", price),
		},
		CreatedAt: now,
		ExpiresAt: &expires,
	}
}
