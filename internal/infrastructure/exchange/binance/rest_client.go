package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/exchange"
)

// RestClient fetches spot prices over Binance's public REST API. Used as the
// fallback when a symbol has no cached tick yet.
type RestClient struct {
	baseURL string // e.g. https://api.binance.com
	conv    exchange.SymbolConverter
	http    *http.Client
}

func NewRestClient(baseURL, quote string) *RestClient {
	if quote == "" {
		quote = "USDT"
	}
	return &RestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		conv:    exchange.NewCommonSymbolConverter(quote),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type tickerPriceResp struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (c *RestClient) FetchQuote(ctx context.Context, _ domain.AssetType, symbol string) (float64, error) {
	pair := c.conv.Coin2Symbol(symbol)
	if pair == "" {
		return 0, fmt.Errorf("binance: empty symbol")
	}

	u := c.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance: ticker request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("binance: read ticker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance: ticker status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tp tickerPriceResp
	if err := json.Unmarshal(body, &tp); err != nil {
		return 0, fmt.Errorf("binance: decode ticker response: %w", err)
	}
	px, err := strconv.ParseFloat(strings.TrimSpace(tp.Price), 64)
	if err != nil || px <= 0 {
		return 0, fmt.Errorf("binance: bad price %q for %s", tp.Price, pair)
	}
	return px, nil
}

var _ port.QuoteFetcher = (*RestClient)(nil)
