package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// ErrPriceUnavailable means neither the cache nor the fallback fetch produced
// a price for a symbol. Never surfaced to users; the symbol's alerts are
// skipped for the current sweep only.
var ErrPriceUnavailable = errors.New("price unavailable")

// AlertServiceDeps are the collaborators of the evaluation engine.
type AlertServiceDeps struct {
	Alerts        port.AlertRepository
	Notifications port.NotificationRepository
	Sink          port.NotificationSink
	Cache         *domain.PriceCache
	Quotes        port.QuoteFetcher
	Portfolio     port.PortfolioValuer // optional
	Mux           *Mux                 // optional; primes the cache for alert symbols

	FallbackTimeout time.Duration
	Parallelism     int
	ExpiryLookahead time.Duration
	Retention       time.Duration
}

// AlertService runs the periodic sweeps over persisted alerts and owns every
// status transition the sweeps perform.
type AlertService struct {
	deps AlertServiceDeps
	now  func() time.Time
}

func NewAlertService(deps AlertServiceDeps) *AlertService {
	if deps.FallbackTimeout <= 0 {
		deps.FallbackTimeout = 5 * time.Second
	}
	if deps.Parallelism <= 0 {
		deps.Parallelism = 8
	}
	if deps.ExpiryLookahead <= 0 {
		deps.ExpiryLookahead = time.Hour
	}
	if deps.Retention <= 0 {
		deps.Retention = 30 * 24 * time.Hour
	}
	return &AlertService{deps: deps, now: time.Now}
}

type symbolGroup struct {
	symbol string
	asset  domain.AssetType
	alerts []*domain.Alert
}

// SweepPrices evaluates all active price-kind alerts, grouped by symbol so
// each symbol's price is resolved once. One unpriceable symbol or one failing
// record never aborts the rest of the sweep.
func (s *AlertService) SweepPrices(ctx context.Context) error {
	now := s.now()

	alerts, err := s.deps.Alerts.ListEvaluable(ctx, domain.PriceKinds)
	if err != nil {
		return fmt.Errorf("list evaluable alerts: %w", err)
	}

	groups := make(map[string]*symbolGroup)
	for _, a := range alerts {
		if a.IsExpired(now) {
			a.Expire(now)
			if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
				log.Error().Err(err).Str("alert", a.ID).Msg("expire transition failed")
			}
			continue
		}
		key := string(a.Asset) + ":" + a.Symbol
		g, ok := groups[key]
		if !ok {
			g = &symbolGroup{symbol: a.Symbol, asset: a.Asset}
			groups[key] = g
		}
		g.alerts = append(g.alerts, a)
	}

	s.syncInterest(ctx, groups)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.deps.Parallelism)
	for _, g := range groups {
		eg.Go(func() error {
			price, err := s.resolvePrice(gctx, g.asset, g.symbol)
			if err != nil {
				// lastCheckedAt deliberately left unchanged: absence of the
				// liveness signal marks the skipped cycle
				log.Warn().Str("symbol", g.symbol).Err(err).Msg("symbol skipped this sweep")
				return nil
			}
			for _, a := range g.alerts {
				s.evaluate(gctx, a, price, now)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	s.sweepPortfolios(ctx, now)

	log.Debug().Int("alerts", len(alerts)).Int("symbols", len(groups)).Msg("price sweep done")
	return nil
}

// syncInterest registers alert interest with the mux so live ticks keep the
// cache primed for symbols under evaluation.
func (s *AlertService) syncInterest(ctx context.Context, groups map[string]*symbolGroup) {
	if s.deps.Mux == nil {
		return
	}
	want := make(map[string]domain.AssetType, len(groups))
	for _, g := range groups {
		want[g.symbol] = g.asset
	}
	if err := s.deps.Mux.SyncAlertInterest(ctx, want); err != nil {
		log.Error().Err(err).Msg("alert interest sync failed")
	}
}

// resolvePrice prefers the cache; the fallback fetch only fills gaps and does
// not write the cache (a REST snapshot carries no ordering guarantee against
// in-flight ticks).
func (s *AlertService) resolvePrice(ctx context.Context, asset domain.AssetType, symbol string) (float64, error) {
	if e, ok := s.deps.Cache.Get(symbol); ok {
		return e.Price, nil
	}
	if s.deps.Quotes == nil {
		return 0, ErrPriceUnavailable
	}
	fctx, cancel := context.WithTimeout(ctx, s.deps.FallbackTimeout)
	defer cancel()
	price, err := s.deps.Quotes.FetchQuote(fctx, asset, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return price, nil
}

// evaluate runs one alert against a resolved price. Persistence errors are
// logged and isolated to the single record.
func (s *AlertService) evaluate(ctx context.Context, a *domain.Alert, price float64, now time.Time) {
	if a.Kind == domain.KindPercentChange && a.BasePrice.IsZero() {
		// base was unresolvable at creation; this pass only seeds it
		a.BasePrice = decimal.NewFromFloat(price)
	}
	fired := a.ShouldTrigger(price)
	a.Rearm(price)
	a.Touch(price, now)
	if fired {
		a.Trigger(price, now)
	}

	if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
		log.Error().Err(err).Str("alert", a.ID).Msg("alert save failed")
		return
	}
	if fired {
		s.notify(ctx, a, price, now)
	}
}

// notify creates the notification record for a trigger transition and hands
// it to the sink exactly once.
func (s *AlertService) notify(ctx context.Context, a *domain.Alert, price float64, now time.Time) {
	n := domain.NewAlertNotification(a, price, now)
	if err := s.deps.Notifications.InsertNotification(ctx, n); err != nil {
		log.Error().Err(err).Str("alert", a.ID).Msg("notification save failed")
		return
	}
	if s.deps.Sink != nil {
		if err := s.deps.Sink.Notify(ctx, n); err != nil {
			log.Error().Err(err).Str("notification", n.ID).Msg("notification sink failed")
		}
	}
	log.Info().
		Str("alert", a.ID).
		Str("symbol", a.Symbol).
		Str("kind", string(a.Kind)).
		Float64("price", price).
		Msg("alert triggered")
}

func (s *AlertService) sweepPortfolios(ctx context.Context, now time.Time) {
	if s.deps.Portfolio == nil {
		return
	}
	alerts, err := s.deps.Alerts.ListEvaluable(ctx, []domain.AlertKind{domain.KindPortfolioValue})
	if err != nil {
		log.Error().Err(err).Msg("list portfolio alerts failed")
		return
	}
	for _, a := range alerts {
		if a.IsExpired(now) {
			a.Expire(now)
			if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
				log.Error().Err(err).Str("alert", a.ID).Msg("expire transition failed")
			}
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, s.deps.FallbackTimeout)
		value, err := s.deps.Portfolio.PortfolioValue(vctx, a.Owner)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("owner", a.Owner).Msg("portfolio valuation failed")
			continue
		}

		threshold, _ := a.PortfolioThreshold.Float64()
		holds := value >= threshold
		if a.Condition == domain.ConditionBelow {
			holds = value <= threshold
		}
		fired := a.Status == domain.StatusActive && a.Armed && holds
		if a.Recurring && !a.Armed && !holds {
			// same re-arm rule as the price path: one fire per crossing
			a.Armed = true
		}
		a.Touch(value, now)
		if fired {
			a.Trigger(value, now)
		}
		if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
			log.Error().Err(err).Str("alert", a.ID).Msg("alert save failed")
			continue
		}
		if fired {
			s.notify(ctx, a, value, now)
		}
	}
}

// SweepPredictionExpiry triggers prediction_expiry alerts whose expiry falls
// inside the lookahead window. No price check is involved.
func (s *AlertService) SweepPredictionExpiry(ctx context.Context) error {
	now := s.now()

	alerts, err := s.deps.Alerts.ListEvaluable(ctx, []domain.AlertKind{domain.KindPredictionExpiry})
	if err != nil {
		return fmt.Errorf("list prediction alerts: %w", err)
	}
	for _, a := range alerts {
		if a.ExpiresAt == nil || a.ExpiresAt.Sub(now) > s.deps.ExpiryLookahead {
			continue
		}
		if !a.Armed {
			// a recurring alert already fired for this prediction
			continue
		}
		a.Touch(a.CurrentPrice, now)
		a.Trigger(a.CurrentPrice, now)
		if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
			log.Error().Err(err).Str("alert", a.ID).Msg("alert save failed")
			continue
		}
		s.notify(ctx, a, a.CurrentPrice, now)
	}
	return nil
}

// SweepCleanup garbage-collects terminal alerts and expired notifications
// past the retention window.
func (s *AlertService) SweepCleanup(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.deps.Retention)

	removed, err := s.deps.Alerts.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("alert cleanup: %w", err)
	}
	expired, err := s.deps.Notifications.DeleteExpiredNotifications(ctx, now)
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	if removed > 0 || expired > 0 {
		log.Info().Int64("alerts", removed).Int64("notifications", expired).Msg("cleanup sweep done")
	}
	return nil
}
