package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/service"
	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/exchange"
	"pricepulse/internal/infrastructure/storage"
)

type stubFeed struct {
	ticks chan domain.Tick
}

func (f *stubFeed) Name() string              { return "STUB" }
func (f *stubFeed) Asset() domain.AssetType   { return domain.AssetCrypto }
func (f *stubFeed) Subscribe(string)          {}
func (f *stubFeed) Unsubscribe(string)        {}
func (f *stubFeed) Ticks() <-chan domain.Tick { return f.ticks }

func newStreamFixture(t *testing.T) (*gin.Engine, *service.Mux, *domain.PriceCache, *stubFeed) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cache := domain.NewPriceCache()
	feed := &stubFeed{ticks: make(chan domain.Tick, 16)}
	mux := service.NewMux(service.MuxDeps{
		Cache:        cache,
		Feeds:        []port.PriceFeed{feed},
		ClientBuffer: 8,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mux.Run(ctx)

	repo := storage.NewMemoryRepo()
	svc := service.NewAlertService(service.AlertServiceDeps{
		Alerts:          repo,
		Notifications:   repo,
		Cache:           cache,
		FallbackTimeout: time.Second,
	})
	h := NewHandler(svc, mux, cache, &stubQuotes{}, exchange.NewAssetClassifier([]string{"BTC"}),
		StreamConfig{ClientBuffer: 8, HeartbeatInitial: 20 * time.Millisecond, HeartbeatSteady: 20 * time.Millisecond})
	return NewRouter(h), mux, cache, feed
}

// openStream starts one streaming request and returns a stop func that cancels
// the request, waits for the handler to finish and returns the wire output.
func openStream(r *gin.Engine, symbol string) (stop func() string) {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/live-price/"+symbol, nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	return func() string {
		cancel()
		<-done
		return w.Body.String()
	}
}

func dataEvents(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func waitForClients(t *testing.T, m *service.Mux, symbol string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := m.Interest(context.Background(), symbol)
		return err == nil && info.StreamClients == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStreamReplaysCacheBeforeLiveTicks(t *testing.T) {
	r, mux, cache, feed := newStreamFixture(t)
	cache.Set("BTC", 50000, 1700000000000)

	stop := openStream(r, "BTC")
	waitForClients(t, mux, "BTC", 1)

	feed.ticks <- domain.Tick{Symbol: "BTC", Asset: domain.AssetCrypto, Price: 50100, Ts: 1700000001000, Source: "STUB"}

	// let the tick and at least one heartbeat reach the wire
	time.Sleep(100 * time.Millisecond)
	body := stop()

	events := dataEvents(body)
	require.GreaterOrEqual(t, len(events), 3)
	require.JSONEq(t, `{"type":"connected","symbol":"BTC"}`, events[0])
	require.JSONEq(t, `{"symbol":"BTC","price":50000,"timestamp":1700000000000,"cached":true}`, events[1])
	require.JSONEq(t, `{"symbol":"BTC","price":50100,"timestamp":1700000001000}`, events[2])
	require.Contains(t, body, ": heartbeat\n\n")

	// disconnect released the only reference
	info, err := mux.Interest(context.Background(), "BTC")
	require.NoError(t, err)
	require.False(t, info.Exists, "disconnect must release the subscription")
}

func TestStreamBroadcastsToAllClients(t *testing.T) {
	r, mux, _, feed := newStreamFixture(t)

	stopA := openStream(r, "BTC")
	stopB := openStream(r, "BTC")
	waitForClients(t, mux, "BTC", 2)

	feed.ticks <- domain.Tick{Symbol: "BTC", Asset: domain.AssetCrypto, Price: 50000, Ts: 42, Source: "STUB"}
	time.Sleep(100 * time.Millisecond)

	eventsA := dataEvents(stopA())
	eventsB := dataEvents(stopB())

	// no cache entry: the connected ack then the identical live event
	want := `{"symbol":"BTC","price":50000,"timestamp":42}`
	require.Len(t, eventsA, 2)
	require.Len(t, eventsB, 2)
	require.JSONEq(t, want, eventsA[1])
	require.JSONEq(t, want, eventsB[1])
}
