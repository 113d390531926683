package port

import (
	"context"

	"pricepulse/internal/domain"
)

// QuoteFetcher is the direct fallback price fetch used by the alert sweep
// when no subscriber has primed the cache for a symbol.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, asset domain.AssetType, symbol string) (float64, error)
}

// PortfolioValuer values one owner's portfolio. Accounting is an external
// collaborator; a nil valuer disables portfolio_value alerts.
type PortfolioValuer interface {
	PortfolioValue(ctx context.Context, owner string) (float64, error)
}
