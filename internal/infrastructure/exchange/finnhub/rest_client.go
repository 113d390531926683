package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// RestClient fetches equity quotes from Finnhub's REST API.
type RestClient struct {
	baseURL string // e.g. https://finnhub.io/api/v1
	token   string
	http    *http.Client
}

func NewRestClient(baseURL, token string) *RestClient {
	return &RestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type quoteResp struct {
	Current  float64 `json:"c"`
	High     float64 `json:"h"`
	Low      float64 `json:"l"`
	Open     float64 `json:"o"`
	PrevClos float64 `json:"pc"`
}

func (c *RestClient) FetchQuote(ctx context.Context, _ domain.AssetType, symbol string) (float64, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return 0, fmt.Errorf("finnhub: empty symbol")
	}

	q := url.Values{}
	q.Set("symbol", sym)
	q.Set("token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("finnhub: quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("finnhub: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("finnhub: quote status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var qr quoteResp
	if err := json.Unmarshal(body, &qr); err != nil {
		return 0, fmt.Errorf("finnhub: decode quote response: %w", err)
	}
	// Finnhub reports c == 0 for unknown tickers instead of an error status.
	if qr.Current <= 0 {
		return 0, fmt.Errorf("finnhub: no quote for %s", sym)
	}
	return qr.Current, nil
}

var _ port.QuoteFetcher = (*RestClient)(nil)
