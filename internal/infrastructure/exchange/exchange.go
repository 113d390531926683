package exchange

import (
	"context"
	"fmt"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// QuoteRouter fans FetchQuote out to the venue REST client responsible for
// the symbol's asset class. It backs the alert sweep's fallback fetch and the
// non-streaming snapshot endpoint.
type QuoteRouter struct {
	fetchers map[domain.AssetType]port.QuoteFetcher
}

func NewQuoteRouter() *QuoteRouter {
	return &QuoteRouter{fetchers: make(map[domain.AssetType]port.QuoteFetcher)}
}

// Register binds one asset class to a venue REST client.
func (r *QuoteRouter) Register(asset domain.AssetType, f port.QuoteFetcher) {
	if f != nil {
		r.fetchers[asset] = f
	}
}

func (r *QuoteRouter) FetchQuote(ctx context.Context, asset domain.AssetType, symbol string) (float64, error) {
	f, ok := r.fetchers[asset]
	if !ok {
		return 0, fmt.Errorf("no quote source for asset type %q", asset)
	}
	return f.FetchQuote(ctx, asset, symbol)
}

var _ port.QuoteFetcher = (*QuoteRouter)(nil)
