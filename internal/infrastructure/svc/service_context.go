package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/service"
	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/config"
	"pricepulse/internal/infrastructure/exchange"
	"pricepulse/internal/infrastructure/exchange/binance"
	"pricepulse/internal/infrastructure/exchange/finnhub"
	"pricepulse/internal/infrastructure/feed"
	"pricepulse/internal/infrastructure/pricefeed"
	"pricepulse/internal/infrastructure/storage"
	"pricepulse/internal/infrastructure/storage/composite"
	postgresrepo "pricepulse/internal/infrastructure/storage/postgres"
	redisrepo "pricepulse/internal/infrastructure/storage/redis"
	sqliterepo "pricepulse/internal/infrastructure/storage/sqlite"
	"pricepulse/internal/interfaces/console"
	"pricepulse/internal/interfaces/rest"
)

// ServiceContext owns every long-lived component and wires them in dependency
// order. It is the single entry point for application startup.
type ServiceContext struct {
	Config *config.Config

	Cache       *domain.PriceCache
	Supervisors []*feed.Supervisor
	Mux         *service.Mux
	Alerts      *service.AlertService
	Scheduler   *service.Scheduler
	Router      *gin.Engine

	alertRepo  port.AlertRepository
	notifyRepo port.NotificationRepository
	mirror     port.PriceMirror

	closerChain []func() error
}

func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Config:      cfg,
		Cache:       domain.NewPriceCache(),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initStorage(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := sc.initFeeds(); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("feed initialization failed: %w", err)
	}
	sc.initServices()

	log.Info().
		Int("feeds", len(sc.Supervisors)).
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Msg("all components initialized")
	return sc, nil
}

func (sc *ServiceContext) initStorage(ctx context.Context) error {
	switch sc.Config.Storage.Driver {
	case "sqlite":
		repo, err := sqliterepo.New(sc.Config.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite repo creation failed: %w", err)
		}
		sc.alertRepo, sc.notifyRepo = repo, repo
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", sc.Config.Storage.SQLitePath).Msg("sqlite initialized")

	case "postgres":
		repo, err := postgresrepo.New(sc.Config.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres repo creation failed: %w", err)
		}
		sc.alertRepo, sc.notifyRepo = repo, repo
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Msg("postgres initialized")

	default:
		repo := storage.NewMemoryRepo()
		sc.alertRepo, sc.notifyRepo = repo, repo
		log.Info().Msg("in-memory storage initialized")
	}

	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(ctx); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	return nil
}

func (sc *ServiceContext) initRedis(ctx context.Context) error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := time.Duration(sc.Config.Redis.TTLSeconds) * time.Second
	sc.mirror = redisrepo.New(rdb, sc.Config.Redis.Prefix, ttl, sc.Config.Redis.NotifyChannel)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})
	log.Info().Str("addr", sc.Config.Redis.Addr).Int("db", sc.Config.Redis.DB).Msg("redis initialized")
	return nil
}

func (sc *ServiceContext) initFeeds() error {
	fcfg := feed.Config{
		DialTimeout:          time.Duration(sc.Config.Feed.DialTimeoutSec) * time.Second,
		InitialBackoff:       time.Duration(sc.Config.Feed.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:           time.Duration(sc.Config.Feed.MaxBackoffMS) * time.Millisecond,
		MaxReconnectAttempts: sc.Config.Feed.MaxReconnectAttempts,
		PingInterval:         time.Duration(sc.Config.Feed.PingIntervalSec) * time.Second,
		TickBuffer:           sc.Config.Feed.TickBuffer,
	}

	for name, vc := range sc.Config.Venues {
		if !vc.Enabled {
			log.Warn().Str("venue", name).Msg("venue disabled by config")
			continue
		}
		factory, ok := pricefeed.Get(name)
		if !ok {
			log.Error().Str("venue", name).Msg("no feed factory registered")
			continue
		}
		dialer := factory(pricefeed.Options{
			WsURL: vc.WsURL,
			Token: vc.Token,
			Quote: sc.Config.Symbols.Quote,
		})
		sc.Supervisors = append(sc.Supervisors, feed.NewSupervisor(dialer, fcfg))
	}

	if len(sc.Supervisors) == 0 {
		return ErrNoFeedsEnabled
	}
	return nil
}

func (sc *ServiceContext) initServices() {
	cfg := sc.Config

	feeds := make([]port.PriceFeed, 0, len(sc.Supervisors))
	for _, s := range sc.Supervisors {
		feeds = append(feeds, s)
	}
	sc.Mux = service.NewMux(service.MuxDeps{
		Cache:        sc.Cache,
		Feeds:        feeds,
		Mirror:       sc.mirror,
		ClientBuffer: cfg.Stream.ClientBuffer,
	})

	quotes := exchange.NewQuoteRouter()
	for name, vc := range cfg.Venues {
		if !vc.Enabled || vc.RestURL == "" {
			continue
		}
		switch name {
		case "binance":
			quotes.Register(domain.AssetCrypto, binance.NewRestClient(vc.RestURL, cfg.Symbols.Quote))
		case "finnhub":
			quotes.Register(domain.AssetStock, finnhub.NewRestClient(vc.RestURL, vc.Token))
		}
	}

	sink := composite.New(console.NewSink(), redisSink(sc.mirror))

	sc.Alerts = service.NewAlertService(service.AlertServiceDeps{
		Alerts:          sc.alertRepo,
		Notifications:   sc.notifyRepo,
		Sink:            sink,
		Cache:           sc.Cache,
		Quotes:          quotes,
		Mux:             sc.Mux,
		FallbackTimeout: time.Duration(cfg.Alerts.FallbackTimeoutMS) * time.Millisecond,
		Parallelism:     cfg.Alerts.Parallelism,
		ExpiryLookahead: time.Duration(cfg.Alerts.ExpiryLookaheadMin) * time.Minute,
		Retention:       time.Duration(cfg.Alerts.RetentionDays) * 24 * time.Hour,
	})

	sc.Scheduler = service.NewScheduler(
		service.Job{
			Name:    "price-sweep",
			Every:   time.Duration(cfg.Alerts.SweepIntervalSec) * time.Second,
			AtStart: cfg.App.RunSweepAtStart,
			Run:     sc.Alerts.SweepPrices,
		},
		service.Job{
			Name:  "prediction-expiry-sweep",
			Every: time.Duration(cfg.Alerts.ExpirySweepIntervalMin) * time.Minute,
			Run:   sc.Alerts.SweepPredictionExpiry,
		},
		service.Job{
			Name:  "cleanup-sweep",
			Every: time.Duration(cfg.Alerts.CleanupIntervalHours) * time.Hour,
			Run:   sc.Alerts.SweepCleanup,
		},
	)

	classifier := exchange.NewAssetClassifier(cfg.Symbols.Crypto)
	handler := rest.NewHandler(sc.Alerts, sc.Mux, sc.Cache, quotes, classifier, rest.StreamConfig{
		ClientBuffer:     cfg.Stream.ClientBuffer,
		HeartbeatInitial: time.Duration(cfg.Stream.HeartbeatInitialSec) * time.Second,
		HeartbeatSteady:  time.Duration(cfg.Stream.HeartbeatSteadySec) * time.Second,
		WarmupHeartbeats: cfg.Stream.HeartbeatWarmupCount,
	})
	sc.Router = rest.NewRouter(handler)
}

// redisSink narrows the mirror to its sink half when redis is on.
func redisSink(m port.PriceMirror) port.NotificationSink {
	if s, ok := m.(port.NotificationSink); ok {
		return s
	}
	return nil
}

// Close releases resources in reverse initialization order.
func (sc *ServiceContext) Close() error {
	var firstErr error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
