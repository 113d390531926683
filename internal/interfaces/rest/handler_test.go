package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"pricepulse/internal/application/service"
	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/exchange"
	"pricepulse/internal/infrastructure/storage"
)

type stubQuotes struct {
	price float64
	err   error
}

func (s *stubQuotes) FetchQuote(context.Context, domain.AssetType, string) (float64, error) {
	return s.price, s.err
}

func newTestRouter(t *testing.T) (*gin.Engine, *domain.PriceCache) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cache := domain.NewPriceCache()
	svc := service.NewAlertService(service.AlertServiceDeps{
		Alerts:          storage.NewMemoryRepo(),
		Notifications:   storage.NewMemoryRepo(),
		Cache:           cache,
		FallbackTimeout: time.Second,
	})
	h := NewHandler(svc, nil, cache, &stubQuotes{price: 123.45},
		exchange.NewAssetClassifier([]string{"BTC"}), StreamConfig{})
	return NewRouter(h), cache
}

func doJSON(t *testing.T, r *gin.Engine, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAlertRequiresOwner(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/alerts", "", `{"symbol":"BTC","alertType":"price_above","targetPrice":"50000"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndFetchAlert(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/alerts", "user-1",
		`{"symbol":"btc","alertType":"price_above","targetPrice":"50000","recurring":false}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Success bool         `json:"success"`
		Data    domain.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.Success)
	require.Equal(t, "BTC", created.Data.Symbol)
	require.Equal(t, domain.AssetCrypto, created.Data.Asset)
	require.Equal(t, domain.StatusActive, created.Data.Status)

	w = doJSON(t, r, http.MethodGet, "/alerts/"+created.Data.ID, "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	// another owner cannot see it
	w = doJSON(t, r, http.MethodGet, "/alerts/"+created.Data.ID, "user-2", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAlertValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	// missing target price
	w := doJSON(t, r, http.MethodPost, "/alerts", "user-1", `{"symbol":"BTC","alertType":"price_above"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// unknown kind
	w = doJSON(t, r, http.MethodPost, "/alerts", "user-1", `{"symbol":"BTC","alertType":"nonsense","targetPrice":"1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPriceEndpointPicksKindFromCondition(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/alerts/price", "user-1",
		`{"symbol":"BTC","condition":"below","targetPrice":"40000"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Data domain.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, domain.KindPriceBelow, created.Data.Kind)
}

func TestListAndStats(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		w := doJSON(t, r, http.MethodPost, "/alerts", "user-1",
			fmt.Sprintf(`{"symbol":"BTC","alertType":"price_above","targetPrice":"%d"}`, 50000+i))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, r, http.MethodGet, "/alerts/active", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Equal(t, 3, listed.Count)

	w = doJSON(t, r, http.MethodGet, "/alerts/stats", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Data struct {
			Total  int `json:"total"`
			Active int `json:"active"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Equal(t, 3, stats.Data.Total)
	require.Equal(t, 3, stats.Data.Active)
}

func TestDeleteCancelsAlert(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/alerts", "user-1",
		`{"symbol":"BTC","alertType":"price_above","targetPrice":"50000"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data domain.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodDelete, "/alerts/"+created.Data.ID, "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled struct {
		Data domain.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	require.Equal(t, domain.StatusCancelled, cancelled.Data.Status)
}

func TestCurrentPricePrefersCache(t *testing.T) {
	r, cache := newTestRouter(t)
	cache.Set("BTC", 50000, 1700000000000)

	w := doJSON(t, r, http.MethodGet, "/live-price/current/BTC", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Price  float64 `json:"price"`
		Cached bool    `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 50000.0, resp.Price)
	require.True(t, resp.Cached)
}

func TestCurrentPriceFallsBackToQuote(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/live-price/current/AAPL", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Price  float64 `json:"price"`
		Cached bool    `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 123.45, resp.Price)
	require.False(t, resp.Cached)
}
