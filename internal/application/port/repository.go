package port

import (
	"context"
	"errors"
	"time"

	"pricepulse/internal/domain"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	Owner  string
	Status domain.AlertStatus
	Symbol string
	Limit  int
}

// AlertStats summarizes one owner's alerts.
type AlertStats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Triggered   int `json:"triggered"`
	Expired     int `json:"expired"`
	Cancelled   int `json:"cancelled"`
	TotalChecks int `json:"totalChecks"`
}

// AlertRepository persists alert records.
type AlertRepository interface {
	InsertAlert(ctx context.Context, a *domain.Alert) error
	UpdateAlert(ctx context.Context, a *domain.Alert) error
	GetAlert(ctx context.Context, id string) (*domain.Alert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*domain.Alert, error)
	// ListEvaluable returns active alerts of the given kinds, including those
	// whose expiry has passed (the sweep performs the expired transition).
	ListEvaluable(ctx context.Context, kinds []domain.AlertKind) ([]*domain.Alert, error)
	AlertStats(ctx context.Context, owner string) (AlertStats, error)
	// DeleteTerminalBefore garbage-collects terminal alerts last updated
	// before the cutoff. Returns the number of rows removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationRepository persists notification records.
type NotificationRepository interface {
	InsertNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, owner string, unreadOnly bool) ([]*domain.Notification, error)
	// MarkNotificationsRead marks the given ids read (all of the owner's when
	// ids is empty). Returns the number of rows updated.
	MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error)
	DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error)
}

// PriceMirror republishes accepted cache writes to an external store so other
// processes can read last prices. Best-effort; errors are logged, not fatal.
type PriceMirror interface {
	UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error
}
