package composite

import (
	"context"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Sink fans one notification out to several sinks. Every sink is attempted;
// the first error is returned.
type Sink struct {
	sinks []port.NotificationSink
}

func New(sinks ...port.NotificationSink) *Sink {
	// nil sinks are allowed; filter in constructor for safety
	out := make([]port.NotificationSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Sink{sinks: out}
}

func (s *Sink) Notify(ctx context.Context, n *domain.Notification) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.NotificationSink = (*Sink)(nil)
