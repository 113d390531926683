package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type VenueConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
	Token   string `toml:"token"`
}

type Config struct {
	App struct {
		HTTPAddr        string `toml:"http_addr"`
		RunSweepAtStart bool   `toml:"run_sweep_at_start"`
	} `toml:"app"`

	Stream struct {
		ClientBuffer         int `toml:"client_buffer"`
		HeartbeatInitialSec  int `toml:"heartbeat_initial_sec"`
		HeartbeatSteadySec   int `toml:"heartbeat_steady_sec"`
		HeartbeatWarmupCount int `toml:"heartbeat_warmup_count"`
	} `toml:"stream"`

	Alerts struct {
		SweepIntervalSec       int `toml:"sweep_interval_sec"`
		ExpirySweepIntervalMin int `toml:"expiry_sweep_interval_min"`
		CleanupIntervalHours   int `toml:"cleanup_interval_hours"`
		RetentionDays          int `toml:"retention_days"`
		FallbackTimeoutMS      int `toml:"fallback_timeout_ms"`
		Parallelism            int `toml:"parallelism"`
		ExpiryLookaheadMin     int `toml:"expiry_lookahead_min"`
	} `toml:"alerts"`

	Feed struct {
		DialTimeoutSec       int `toml:"dial_timeout_sec"`
		InitialBackoffMS     int `toml:"initial_backoff_ms"`
		MaxBackoffMS         int `toml:"max_backoff_ms"`
		MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
		PingIntervalSec      int `toml:"ping_interval_sec"`
		TickBuffer           int `toml:"tick_buffer"`
	} `toml:"feed"`

	Symbols struct {
		Crypto []string `toml:"crypto"`
		Quote  string   `toml:"quote"`
	} `toml:"symbols"`

	Venues map[string]VenueConfig `toml:"venues"`

	Storage struct {
		Driver      string `toml:"driver"` // memory | sqlite | postgres
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		TTLSeconds    int    `toml:"ttl_seconds"`
		NotifyChannel string `toml:"notify_channel"`
	} `toml:"redis"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.HTTPAddr) == "" {
		cfg.App.HTTPAddr = ":8080"
	}

	if cfg.Stream.ClientBuffer <= 0 {
		cfg.Stream.ClientBuffer = 64
	}
	if cfg.Stream.HeartbeatInitialSec <= 0 {
		cfg.Stream.HeartbeatInitialSec = 5
	}
	if cfg.Stream.HeartbeatSteadySec <= 0 {
		cfg.Stream.HeartbeatSteadySec = 30
	}
	if cfg.Stream.HeartbeatWarmupCount <= 0 {
		cfg.Stream.HeartbeatWarmupCount = 5
	}

	if cfg.Alerts.SweepIntervalSec <= 0 {
		cfg.Alerts.SweepIntervalSec = 60
	}
	if cfg.Alerts.ExpirySweepIntervalMin <= 0 {
		cfg.Alerts.ExpirySweepIntervalMin = 10
	}
	if cfg.Alerts.CleanupIntervalHours <= 0 {
		cfg.Alerts.CleanupIntervalHours = 24
	}
	if cfg.Alerts.RetentionDays <= 0 {
		cfg.Alerts.RetentionDays = 30
	}
	if cfg.Alerts.FallbackTimeoutMS <= 0 {
		cfg.Alerts.FallbackTimeoutMS = 5000
	}
	if cfg.Alerts.Parallelism <= 0 {
		cfg.Alerts.Parallelism = 8
	}
	if cfg.Alerts.ExpiryLookaheadMin <= 0 {
		cfg.Alerts.ExpiryLookaheadMin = 60
	}

	if cfg.Feed.DialTimeoutSec <= 0 {
		cfg.Feed.DialTimeoutSec = 10
	}
	if cfg.Feed.InitialBackoffMS <= 0 {
		cfg.Feed.InitialBackoffMS = 500
	}
	if cfg.Feed.MaxBackoffMS <= 0 {
		cfg.Feed.MaxBackoffMS = 10000
	}
	if cfg.Feed.MaxReconnectAttempts <= 0 {
		cfg.Feed.MaxReconnectAttempts = 10
	}
	if cfg.Feed.PingIntervalSec <= 0 {
		cfg.Feed.PingIntervalSec = 25
	}
	if cfg.Feed.TickBuffer <= 0 {
		cfg.Feed.TickBuffer = 1024
	}

	if strings.TrimSpace(cfg.Symbols.Quote) == "" {
		cfg.Symbols.Quote = "USDT"
	}

	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "memory"
	}
	if strings.TrimSpace(cfg.Storage.SQLitePath) == "" {
		cfg.Storage.SQLitePath = "pricepulse.db"
	}

	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = "pricepulse"
	}
	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 300
	}
	if strings.TrimSpace(cfg.Redis.NotifyChannel) == "" {
		cfg.Redis.NotifyChannel = "pricepulse:notifications"
	}
}

// applyEnv lets secrets come from the environment so they stay out of the
// config file. Env values win over toml values.
func applyEnv(cfg *Config) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	for name, vc := range cfg.Venues {
		envKey := strings.ToUpper(name) + "_TOKEN"
		if tok := os.Getenv(envKey); tok != "" {
			vc.Token = tok
			cfg.Venues[name] = vc
		}
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.Crypto = normalizeSymbols(cfg.Symbols.Crypto)

	switch cfg.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q unknown", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}

	enabled := 0
	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(vc.WsURL) == "" {
			return fmt.Errorf("venues.%s.ws_url empty but enabled", name)
		}
	}
	if enabled == 0 {
		return errors.New("no venue enabled")
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
