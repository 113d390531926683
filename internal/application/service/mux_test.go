package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricepulse/internal/domain"
)

type fakeFeed struct {
	asset domain.AssetType
	ticks chan domain.Tick

	mu     sync.Mutex
	subs   []string
	unsubs []string
}

func newFakeFeed(asset domain.AssetType) *fakeFeed {
	return &fakeFeed{asset: asset, ticks: make(chan domain.Tick, 16)}
}

func (f *fakeFeed) Name() string            { return "FAKE" }
func (f *fakeFeed) Asset() domain.AssetType { return f.asset }

func (f *fakeFeed) Subscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, symbol)
}

func (f *fakeFeed) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, symbol)
}

func (f *fakeFeed) Ticks() <-chan domain.Tick { return f.ticks }

func (f *fakeFeed) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...)
}

func (f *fakeFeed) unsubscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubs...)
}

func startMux(t *testing.T, feeds ...*fakeFeed) (*Mux, *domain.PriceCache) {
	t.Helper()
	cache := domain.NewPriceCache()
	deps := MuxDeps{Cache: cache}
	for _, f := range feeds {
		deps.Feeds = append(deps.Feeds, f)
	}
	m := NewMux(deps)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m, cache
}

func recvTick(t *testing.T, ch <-chan domain.Tick) domain.Tick {
	t.Helper()
	select {
	case tick, ok := <-ch:
		require.True(t, ok, "tick channel closed unexpectedly")
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return domain.Tick{}
	}
}

func TestStreamRefcounting(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, _ := startMux(t, feed)
	ctx := context.Background()

	a := NewStreamClient("a", "BTC", 8)
	b := NewStreamClient("b", "BTC", 8)
	require.NoError(t, m.AttachStream(ctx, a, domain.AssetCrypto))
	require.NoError(t, m.AttachStream(ctx, b, domain.AssetCrypto))

	info, err := m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.Equal(t, 2, info.Refs)
	require.Equal(t, 2, info.StreamClients)

	// only the 0→1 transition reaches the venue
	require.Equal(t, []string{"BTC"}, feed.subscribed())

	require.NoError(t, m.DetachStream(ctx, a))
	info, err = m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, 1, info.Refs)
	require.Empty(t, feed.unsubscribed())

	require.NoError(t, m.DetachStream(ctx, b))
	info, err = m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.False(t, info.Exists)
	require.Equal(t, []string{"BTC"}, feed.unsubscribed())
}

func TestDetachIsIdempotent(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, _ := startMux(t, feed)
	ctx := context.Background()

	c := NewStreamClient("c", "ETH", 8)
	require.NoError(t, m.AttachStream(ctx, c, domain.AssetCrypto))
	require.NoError(t, m.DetachStream(ctx, c))
	require.NoError(t, m.DetachStream(ctx, c))

	require.Equal(t, []string{"ETH"}, feed.unsubscribed())
}

func TestBroadcastReachesAllClients(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, cache := startMux(t, feed)
	ctx := context.Background()

	a := NewStreamClient("a", "BTC", 8)
	b := NewStreamClient("b", "BTC", 8)
	require.NoError(t, m.AttachStream(ctx, a, domain.AssetCrypto))
	require.NoError(t, m.AttachStream(ctx, b, domain.AssetCrypto))

	feed.ticks <- domain.Tick{Symbol: "BTC", Asset: domain.AssetCrypto, Price: 50000, Ts: 100, Source: "FAKE"}

	ta := recvTick(t, a.Ticks())
	tb := recvTick(t, b.Ticks())
	require.Equal(t, 50000.0, ta.Price)
	require.Equal(t, 50000.0, tb.Price)

	entry, ok := cache.Get("BTC")
	require.True(t, ok)
	require.Equal(t, 50000.0, entry.Price)
	require.Equal(t, int64(100), entry.Ts)
}

func TestOutOfOrderTickDropped(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, cache := startMux(t, feed)
	ctx := context.Background()

	c := NewStreamClient("c", "BTC", 8)
	require.NoError(t, m.AttachStream(ctx, c, domain.AssetCrypto))

	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 50000, Ts: 200, Source: "FAKE"}
	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 49000, Ts: 100, Source: "FAKE"}
	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 50100, Ts: 300, Source: "FAKE"}

	require.Equal(t, int64(200), recvTick(t, c.Ticks()).Ts)
	// the stale tick never reaches the client
	require.Equal(t, int64(300), recvTick(t, c.Ticks()).Ts)

	entry, _ := cache.Get("BTC")
	require.Equal(t, 50100.0, entry.Price)
}

func TestAlertInterestSharesSubscription(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, _ := startMux(t, feed)
	ctx := context.Background()

	c := NewStreamClient("c", "BTC", 8)
	require.NoError(t, m.AttachStream(ctx, c, domain.AssetCrypto))
	require.NoError(t, m.SyncAlertInterest(ctx, map[string]domain.AssetType{"BTC": domain.AssetCrypto}))

	info, err := m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, 2, info.Refs)
	require.True(t, info.AlertInterest)
	require.Equal(t, []string{"BTC"}, feed.subscribed(), "alert interest must reuse the stream subscription")

	// stream client leaves; alert interest keeps the subscription alive
	require.NoError(t, m.DetachStream(ctx, c))
	info, err = m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.Equal(t, 1, info.Refs)
	require.Empty(t, feed.unsubscribed())

	// alert interest gone: 1→0 releases upstream
	require.NoError(t, m.SyncAlertInterest(ctx, map[string]domain.AssetType{}))
	info, err = m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.False(t, info.Exists)
	require.Equal(t, []string{"BTC"}, feed.unsubscribed())
}

func TestDuplicateClientIDRejected(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, _ := startMux(t, feed)
	ctx := context.Background()

	first := NewStreamClient("dup", "BTC", 8)
	second := NewStreamClient("dup", "BTC", 8)
	require.NoError(t, m.AttachStream(ctx, first, domain.AssetCrypto))
	require.NoError(t, m.AttachStream(ctx, second, domain.AssetCrypto))

	// the rejected client's channel closes so its reader does not hang
	select {
	case _, ok := <-second.Ticks():
		require.False(t, ok, "rejected client channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("rejected client channel not closed")
	}

	info, err := m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, 1, info.Refs, "rejected client must not hold a reference")

	// re-attaching the original is a no-op and it keeps streaming
	require.NoError(t, m.AttachStream(ctx, first, domain.AssetCrypto))
	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 5, Ts: 5, Source: "FAKE"}
	require.Equal(t, int64(5), recvTick(t, first.Ticks()).Ts)
}

func TestSlowClientDisconnected(t *testing.T) {
	feed := newFakeFeed(domain.AssetCrypto)
	m, _ := startMux(t, feed)
	ctx := context.Background()

	slow := NewStreamClient("slow", "BTC", 1)
	fast := NewStreamClient("fast", "BTC", 8)
	require.NoError(t, m.AttachStream(ctx, slow, domain.AssetCrypto))
	require.NoError(t, m.AttachStream(ctx, fast, domain.AssetCrypto))

	// the slow client never reads; its 1-slot buffer fills on the first tick
	// and the second overflows it
	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 1, Ts: 1, Source: "FAKE"}
	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 2, Ts: 2, Source: "FAKE"}

	require.Equal(t, int64(1), recvTick(t, fast.Ticks()).Ts)
	require.Equal(t, int64(2), recvTick(t, fast.Ticks()).Ts)

	// drain: one buffered tick, then closed channel
	require.Equal(t, int64(1), recvTick(t, slow.Ticks()).Ts)
	select {
	case _, ok := <-slow.Ticks():
		require.False(t, ok, "slow client channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("slow client channel not closed")
	}

	info, err := m.Interest(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, 1, info.Refs, "dropped client must release its reference")

	// the fast client keeps streaming
	feed.ticks <- domain.Tick{Symbol: "BTC", Price: 3, Ts: 3, Source: "FAKE"}
	require.Equal(t, int64(3), recvTick(t, fast.Ticks()).Ts)
}
