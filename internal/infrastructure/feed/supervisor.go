package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/domain"
)

// ErrMaxRetries is returned when the attempt cap is exhausted; the adapter is
// then permanently down until process restart.
var ErrMaxRetries = errors.New("max reconnect attempts exhausted")

// Phase is the connection state of one adapter.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseBackoff      Phase = "backoff"
)

// Session is one established venue connection. Implementations must allow
// Subscribe/Unsubscribe/Ping concurrently with ReadTick.
type Session interface {
	// Subscribe sends the venue's subscribe control message.
	Subscribe(symbols ...string) error
	Unsubscribe(symbols ...string) error
	// ReadTick blocks for the next inbound frame. ok is false for control
	// frames and malformed payloads, which are dropped, never fatal.
	ReadTick() (t domain.Tick, ok bool, err error)
	Ping() error
	Close() error
}

// Dialer establishes venue sessions; one Dialer per venue family.
type Dialer interface {
	Name() string
	Asset() domain.AssetType
	Dial(ctx context.Context) (Session, error)
}

// Config bounds the supervisor's retry behavior.
type Config struct {
	DialTimeout          time.Duration
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	TickBuffer           int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = 1024
	}
	return c
}

// Supervisor owns one venue connection: it dials, replays the desired symbol
// set after every reconnect, reads ticks, and applies capped exponential
// backoff between attempts. Subscribe/Unsubscribe while disconnected only
// mutate the desired set, which doubles as the pending replay queue.
type Supervisor struct {
	dialer Dialer
	cfg    Config
	out    chan domain.Tick

	mu          sync.Mutex
	phase       Phase
	retries     int
	desired     map[string]struct{}
	sess        Session
	intentional bool
}

func NewSupervisor(d Dialer, cfg Config) *Supervisor {
	return &Supervisor{
		dialer:  d,
		cfg:     cfg.withDefaults(),
		out:     make(chan domain.Tick, cfg.withDefaults().TickBuffer),
		phase:   PhaseDisconnected,
		desired: make(map[string]struct{}),
	}
}

func (s *Supervisor) Name() string              { return s.dialer.Name() }
func (s *Supervisor) Asset() domain.AssetType   { return s.dialer.Asset() }
func (s *Supervisor) Ticks() <-chan domain.Tick { return s.out }

func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Supervisor) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Subscribe records interest and, when connected, sends the control message
// immediately. Otherwise the symbol waits in the desired set for replay.
func (s *Supervisor) Subscribe(symbol string) {
	s.mu.Lock()
	s.desired[symbol] = struct{}{}
	sess := s.sess
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Subscribe(symbol); err != nil {
			// the read loop notices a broken connection; replay covers this
			log.Warn().Str("feed", s.Name()).Str("symbol", symbol).Err(err).Msg("subscribe send failed")
		}
	}
}

func (s *Supervisor) Unsubscribe(symbol string) {
	s.mu.Lock()
	delete(s.desired, symbol)
	sess := s.sess
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Unsubscribe(symbol); err != nil {
			log.Warn().Str("feed", s.Name()).Str("symbol", symbol).Err(err).Msg("unsubscribe send failed")
		}
	}
}

// Close marks the shutdown intentional so the run loop does not treat the
// resulting read error as a failure requiring backoff.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.intentional = true
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Supervisor) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intentional
}

// Run drives the disconnected → connecting → connected state machine until
// ctx is cancelled, Close is called, or the attempt cap is reached.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.out)
	defer s.setPhase(PhaseDisconnected)

	backoff := s.cfg.InitialBackoff
	for {
		if ctx.Err() != nil || s.closed() {
			return nil
		}

		s.setPhase(PhaseConnecting)
		log.Info().Str("feed", s.Name()).Msg("feed connecting")

		dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		sess, err := s.dialer.Dial(dctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil || s.closed() {
				return nil
			}
			s.mu.Lock()
			s.retries++
			retries := s.retries
			s.mu.Unlock()
			log.Error().Str("feed", s.Name()).Int("attempt", retries).Err(err).Msg("feed dial failed")
			if retries >= s.cfg.MaxReconnectAttempts {
				log.Error().Str("feed", s.Name()).Msg("feed permanently down")
				return ErrMaxRetries
			}
			s.setPhase(PhaseBackoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = minDur(backoff*2, s.cfg.MaxBackoff)
			continue
		}

		s.mu.Lock()
		s.sess = sess
		s.phase = PhaseConnected
		s.retries = 0
		replay := make([]string, 0, len(s.desired))
		for sym := range s.desired {
			replay = append(replay, sym)
		}
		s.mu.Unlock()
		backoff = s.cfg.InitialBackoff

		if len(replay) > 0 {
			if err := sess.Subscribe(replay...); err != nil {
				log.Warn().Str("feed", s.Name()).Err(err).Msg("resubscription replay failed")
			}
		}
		log.Info().Str("feed", s.Name()).Int("symbols", len(replay)).Msg("feed connected")

		err = s.readSession(ctx, sess)
		_ = sess.Close()
		s.mu.Lock()
		s.sess = nil
		s.mu.Unlock()

		if ctx.Err() != nil || s.closed() {
			return nil
		}
		log.Warn().Str("feed", s.Name()).Err(err).Msg("feed disconnected, reconnecting")
		s.setPhase(PhaseBackoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = minDur(backoff*2, s.cfg.MaxBackoff)
	}
}

// readSession pumps ticks until the connection breaks, keeping the link warm
// with periodic pings.
func (s *Supervisor) readSession(ctx context.Context, sess Session) error {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			t, ok, err := sess.ReadTick()
			if err != nil {
				errCh <- err
				return
			}
			if !ok {
				continue
			}
			select {
			case s.out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = sess.Ping()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
