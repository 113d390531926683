package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"pricepulse/internal/domain"
)

func newTestRepo(t *testing.T) (*Repo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "test", time.Minute, "test:notifications"), mr
}

func TestUpsertLatestPrice(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertLatestPrice(ctx, "BINANCE", "BTC", 50000, 1234567890))

	raw := mr.HGet("test:latest", "BINANCE:BTC")
	var lp LatestPrice
	require.NoError(t, json.Unmarshal([]byte(raw), &lp))
	require.Equal(t, "BTC", lp.Symbol)
	require.Equal(t, 50000.0, lp.Price)

	got, err := repo.GetLatestPrice(ctx, "BINANCE", "BTC")
	require.NoError(t, err)
	require.Equal(t, int64(1234567890), got.Ts)
}

func TestUpsertLatestPriceSkipsNonPositive(t *testing.T) {
	repo, mr := newTestRepo(t)

	require.NoError(t, repo.UpsertLatestPrice(context.Background(), "BINANCE", "BTC", 0, 1))
	require.False(t, mr.Exists("test:latest"))
}

func TestNotifyPublishes(t *testing.T) {
	repo, mr := newTestRepo(t)

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("test:notifications")

	msgCh := make(chan miniredis.PubsubMessage, 1)
	go func() { msgCh <- <-sub.Messages() }()

	n := &domain.Notification{ID: "n-1", Owner: "user-1", Type: "alert_price_above", Message: "BTC reached 50000"}
	require.NoError(t, repo.Notify(context.Background(), n))

	msg := <-msgCh
	var got domain.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Message), &got))
	require.Equal(t, "n-1", got.ID)
	require.Equal(t, "user-1", got.Owner)
}
