package port

import (
	"context"

	"pricepulse/internal/domain"
)

// NotificationSink receives the notification produced by an alert's triggered
// transition. The sink decides that and what was notified; delivery transport
// (email, push) lives outside this process.
type NotificationSink interface {
	Notify(ctx context.Context, n *domain.Notification) error
}
