package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricepulse/internal/domain"
)

type fakeSession struct {
	mu     sync.Mutex
	subs   [][]string
	unsubs [][]string
	ticks  chan tickOrErr
	closed bool
}

type tickOrErr struct {
	tick domain.Tick
	ok   bool
	err  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{ticks: make(chan tickOrErr, 16)}
}

func (s *fakeSession) Subscribe(symbols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, symbols)
	return nil
}

func (s *fakeSession) Unsubscribe(symbols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, symbols)
	return nil
}

func (s *fakeSession) ReadTick() (domain.Tick, bool, error) {
	m, open := <-s.ticks
	if !open {
		return domain.Tick{}, false, errors.New("session torn down")
	}
	return m.tick, m.ok, m.err
}

func (s *fakeSession) Ping() error { return nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ticks)
	}
	return nil
}

func (s *fakeSession) fail(err error) { s.ticks <- tickOrErr{err: err} }

func (s *fakeSession) subscribedBatches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.subs...)
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int // dials to fail before succeeding
	dials    int
}

func (d *fakeDialer) Name() string            { return "FAKE" }
func (d *fakeDialer) Asset() domain.AssetType { return domain.AssetCrypto }

func (d *fakeDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("dial refused")
	}
	s := newFakeSession()
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

func testConfig() Config {
	return Config{
		DialTimeout:          time.Second,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		PingInterval:         time.Hour,
		TickBuffer:           16,
	}
}

func TestMaxRetriesIsTerminal(t *testing.T) {
	d := &fakeDialer{failures: 100}
	s := NewSupervisor(d, testConfig())

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrMaxRetries)
	require.Equal(t, 3, d.dialCount())
	require.Equal(t, PhaseDisconnected, s.Phase())
}

func TestReplaysDesiredSymbolsOnReconnect(t *testing.T) {
	d := &fakeDialer{}
	s := NewSupervisor(d, testConfig())

	s.Subscribe("BTC")
	s.Subscribe("ETH")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return d.session(0) != nil }, 2*time.Second, time.Millisecond)
	sess0 := d.session(0)
	require.Eventually(t, func() bool { return len(sess0.subscribedBatches()) == 1 }, 2*time.Second, time.Millisecond)
	require.ElementsMatch(t, []string{"BTC", "ETH"}, sess0.subscribedBatches()[0])

	// connection breaks; the desired set replays on the next session
	sess0.fail(errors.New("reset by peer"))
	require.Eventually(t, func() bool { return d.session(1) != nil }, 2*time.Second, time.Millisecond)
	sess1 := d.session(1)
	require.Eventually(t, func() bool { return len(sess1.subscribedBatches()) == 1 }, 2*time.Second, time.Millisecond)
	require.ElementsMatch(t, []string{"BTC", "ETH"}, sess1.subscribedBatches()[0])
}

func TestRetryCounterResetsAfterSuccess(t *testing.T) {
	d := &fakeDialer{failures: 2}
	s := NewSupervisor(d, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// two failed dials then a working session
	require.Eventually(t, func() bool { return s.Phase() == PhaseConnected }, 2*time.Second, time.Millisecond)
	require.Equal(t, 0, s.Retries())

	// each later outage gets the full number of attempts again
	d.session(0).fail(errors.New("reset by peer"))
	require.Eventually(t, func() bool { return d.session(1) != nil }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Phase() == PhaseConnected }, 2*time.Second, time.Millisecond)
}

func TestIntentionalCloseStopsCleanly(t *testing.T) {
	d := &fakeDialer{}
	s := NewSupervisor(d, testConfig())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.Phase() == PhaseConnected }, 2*time.Second, time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		require.NoError(t, err, "intentional close is not a failure")
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after Close")
	}
	require.Equal(t, PhaseDisconnected, s.Phase())
}

func TestTicksFlowToOutput(t *testing.T) {
	d := &fakeDialer{}
	s := NewSupervisor(d, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return d.session(0) != nil }, 2*time.Second, time.Millisecond)
	sess := d.session(0)

	// control frames (ok=false) are dropped, data ticks pass through
	sess.ticks <- tickOrErr{ok: false}
	sess.ticks <- tickOrErr{tick: domain.Tick{Symbol: "BTC", Price: 50000, Ts: 1}, ok: true}

	select {
	case tick := <-s.Ticks():
		require.Equal(t, "BTC", tick.Symbol)
		require.Equal(t, 50000.0, tick.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not reach output channel")
	}
}

func TestSubscribeWhileConnectedSendsImmediately(t *testing.T) {
	d := &fakeDialer{}
	s := NewSupervisor(d, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return s.Phase() == PhaseConnected }, 2*time.Second, time.Millisecond)
	s.Subscribe("SOL")

	sess := d.session(0)
	require.Eventually(t, func() bool {
		for _, batch := range sess.subscribedBatches() {
			for _, sym := range batch {
				if sym == "SOL" {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}
