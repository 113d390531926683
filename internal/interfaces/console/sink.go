package console

import (
	"context"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Sink writes triggered notifications to the process log. Always wired so
// triggers stay visible even when no external channel is configured.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Notify(_ context.Context, n *domain.Notification) error {
	log.Info().
		Str("notification", n.ID).
		Str("owner", n.Owner).
		Str("type", n.Type).
		Str("symbol", n.Data["symbol"]).
		Msg(n.Message)
	return nil
}

var _ port.NotificationSink = (*Sink)(nil)
