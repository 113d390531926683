package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Repo mirrors accepted price writes into redis and publishes notifications
// on a pub/sub channel so sibling processes can follow triggers live.
type Repo struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	keyLatest  string // prefix + ":latest"
	notifyChan string
}

type LatestPrice struct {
	Source string  `json:"source"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, notifyChan string) *Repo {
	if notifyChan == "" {
		notifyChan = prefix + ":notifications"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		keyLatest:  prefix + ":latest",
		notifyChan: notifyChan,
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	lp := LatestPrice{Source: source, Symbol: symbol, Price: price, Ts: ts}
	b, _ := json.Marshal(lp)

	// Hash: field = "BINANCE:BTC" -> json
	field := fmt.Sprintf("%s:%s", source, symbol)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, field, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetLatestPrice reads one mirrored entry back. Mostly a debugging aid.
func (r *Repo) GetLatestPrice(ctx context.Context, source, symbol string) (*LatestPrice, error) {
	field := fmt.Sprintf("%s:%s", source, symbol)
	raw, err := r.rdb.HGet(ctx, r.keyLatest, field).Result()
	if err != nil {
		return nil, err
	}
	var lp LatestPrice
	if err := json.Unmarshal([]byte(raw), &lp); err != nil {
		return nil, err
	}
	return &lp, nil
}

// Notify publishes the notification as json on the configured channel.
func (r *Repo) Notify(ctx context.Context, n *domain.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.notifyChan, string(b)).Err()
}

var (
	_ port.PriceMirror      = (*Repo)(nil)
	_ port.NotificationSink = (*Repo)(nil)
)
