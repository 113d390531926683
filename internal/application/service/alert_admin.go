package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// ErrValidation marks caller mistakes the REST surface maps to 400.
var ErrValidation = errors.New("validation")

// ErrForbidden marks access to a record the caller does not own.
var ErrForbidden = errors.New("not the owner")

// CreateAlertInput carries the fields of an alert creation request.
type CreateAlertInput struct {
	Owner              string
	Symbol             string
	Asset              domain.AssetType
	Kind               domain.AlertKind
	TargetPrice        decimal.Decimal
	PercentChange      decimal.Decimal
	PortfolioThreshold decimal.Decimal
	Condition          string
	Timeframe          string
	NotifyVia          string
	CustomMessage      string
	Recurring          bool
	ExpiresAt          *time.Time
}

func (in *CreateAlertInput) validate() error {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Owner == "" {
		return fmt.Errorf("%w: owner required", ErrValidation)
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, in.Kind)
	}
	if in.Asset != domain.AssetCrypto && in.Asset != domain.AssetStock {
		return fmt.Errorf("%w: assetType must be stock or crypto", ErrValidation)
	}
	switch in.Kind {
	case domain.KindPriceAbove, domain.KindPriceBelow:
		if in.Symbol == "" {
			return fmt.Errorf("%w: symbol required", ErrValidation)
		}
		if !in.TargetPrice.IsPositive() {
			return fmt.Errorf("%w: targetPrice must be positive", ErrValidation)
		}
	case domain.KindPercentChange:
		if in.Symbol == "" {
			return fmt.Errorf("%w: symbol required", ErrValidation)
		}
		if in.PercentChange.IsZero() {
			return fmt.Errorf("%w: percentChange required", ErrValidation)
		}
	case domain.KindPortfolioValue:
		if !in.PortfolioThreshold.IsPositive() {
			return fmt.Errorf("%w: portfolioThreshold must be positive", ErrValidation)
		}
		if in.Condition != "" && in.Condition != domain.ConditionAbove && in.Condition != domain.ConditionBelow {
			return fmt.Errorf("%w: condition must be above or below", ErrValidation)
		}
	case domain.KindPredictionExpiry:
		if in.ExpiresAt == nil {
			return fmt.Errorf("%w: expiresAt required", ErrValidation)
		}
	case domain.KindTechnical, domain.KindPattern:
		if in.Symbol == "" {
			return fmt.Errorf("%w: symbol required", ErrValidation)
		}
	}
	return nil
}

// Create validates and persists a new alert. For percent_change the base
// price is captured now when a price is available; otherwise the first sweep
// pass fills it in.
func (s *AlertService) Create(ctx context.Context, in CreateAlertInput) (*domain.Alert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	a := &domain.Alert{
		ID:                 uuid.NewString(),
		Owner:              in.Owner,
		Symbol:             in.Symbol,
		Asset:              in.Asset,
		Kind:               in.Kind,
		Status:             domain.StatusActive,
		TargetPrice:        in.TargetPrice,
		PercentChange:      in.PercentChange,
		PortfolioThreshold: in.PortfolioThreshold,
		Condition:          in.Condition,
		Timeframe:          in.Timeframe,
		NotifyVia:          in.NotifyVia,
		CustomMessage:      in.CustomMessage,
		Recurring:          in.Recurring,
		Armed:              true,
		ExpiresAt:          in.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if a.Kind == domain.KindPercentChange {
		if price, err := s.resolvePrice(ctx, a.Asset, a.Symbol); err == nil {
			a.BasePrice = decimal.NewFromFloat(price)
			a.CurrentPrice = price
		}
	}

	if err := s.deps.Alerts.InsertAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

// Get returns one alert, scoped to its owner.
func (s *AlertService) Get(ctx context.Context, owner, id string) (*domain.Alert, error) {
	a, err := s.deps.Alerts.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Owner != owner {
		return nil, ErrForbidden
	}
	return a, nil
}

// List returns the owner's alerts, optionally filtered by status.
func (s *AlertService) List(ctx context.Context, owner string, status domain.AlertStatus) ([]*domain.Alert, error) {
	return s.deps.Alerts.ListAlerts(ctx, port.AlertFilter{Owner: owner, Status: status})
}

// Stats summarizes the owner's alerts.
func (s *AlertService) Stats(ctx context.Context, owner string) (port.AlertStats, error) {
	return s.deps.Alerts.AlertStats(ctx, owner)
}

// UpdateAlertInput carries the mutable fields; nil means "leave unchanged".
type UpdateAlertInput struct {
	TargetPrice   *decimal.Decimal
	PercentChange *decimal.Decimal
	Timeframe     *string
	NotifyVia     *string
	CustomMessage *string
	ExpiresAt     *time.Time
	Status        *domain.AlertStatus
}

// Update applies an owner edit to the mutable alert fields.
func (s *AlertService) Update(ctx context.Context, owner, id string, in UpdateAlertInput) (*domain.Alert, error) {
	a, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if in.TargetPrice != nil {
		if !in.TargetPrice.IsPositive() {
			return nil, fmt.Errorf("%w: targetPrice must be positive", ErrValidation)
		}
		a.TargetPrice = *in.TargetPrice
	}
	if in.PercentChange != nil {
		a.PercentChange = *in.PercentChange
	}
	if in.Timeframe != nil {
		a.Timeframe = *in.Timeframe
	}
	if in.NotifyVia != nil {
		a.NotifyVia = *in.NotifyVia
	}
	if in.CustomMessage != nil {
		a.CustomMessage = *in.CustomMessage
	}
	if in.ExpiresAt != nil {
		a.ExpiresAt = in.ExpiresAt
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *in.Status)
		}
		// an explicit external reset is the only way back to active
		a.Status = *in.Status
		if a.Status == domain.StatusActive {
			a.Armed = true
			a.TriggeredAt = nil
			a.TriggeredPrice = 0
		}
	}
	a.UpdatedAt = s.now()

	if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	return a, nil
}

// Cancel soft-deletes one alert.
func (s *AlertService) Cancel(ctx context.Context, owner, id string) (*domain.Alert, error) {
	a, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	a.Cancel(s.now())
	if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("cancel alert: %w", err)
	}
	return a, nil
}

// BatchCancel soft-deletes several alerts; records that fail are skipped and
// the count of cancelled alerts is returned.
func (s *AlertService) BatchCancel(ctx context.Context, owner string, ids []string) int {
	cancelled := 0
	for _, id := range ids {
		if _, err := s.Cancel(ctx, owner, id); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// MarkRead bulk-marks the owner's notifications as read.
func (s *AlertService) MarkRead(ctx context.Context, owner string, ids []string) (int64, error) {
	return s.deps.Notifications.MarkNotificationsRead(ctx, owner, ids)
}

// Notifications lists the owner's notifications.
func (s *AlertService) Notifications(ctx context.Context, owner string, unreadOnly bool) ([]*domain.Notification, error) {
	return s.deps.Notifications.ListNotifications(ctx, owner, unreadOnly)
}

// TestTrigger fires an alert by hand regardless of its predicate, using the
// freshest price known for its symbol (zero when none).
func (s *AlertService) TestTrigger(ctx context.Context, owner, id string) (*domain.Alert, error) {
	a, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	price := a.CurrentPrice
	if e, ok := s.deps.Cache.Get(a.Symbol); ok {
		price = e.Price
	}
	a.Touch(price, now)
	a.Trigger(price, now)
	if err := s.deps.Alerts.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	s.notify(ctx, a, price, now)
	return a, nil
}
