package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// ConsumerClass distinguishes the two kinds of symbol interest.
type ConsumerClass string

const (
	ClassStreaming ConsumerClass = "streaming"
	ClassAlert     ConsumerClass = "alert"
)

// StreamClient is one attached streaming consumer. Its tick channel is
// bounded; when the buffer is full the mux disconnects the client instead of
// blocking, so one slow consumer cannot stall fan-out to the others.
type StreamClient struct {
	id     string
	symbol string
	ch     chan domain.Tick
}

func NewStreamClient(id, symbol string, buffer int) *StreamClient {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamClient{
		id:     id,
		symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		ch:     make(chan domain.Tick, buffer),
	}
}

func (c *StreamClient) ID() string     { return c.id }
func (c *StreamClient) Symbol() string { return c.symbol }

// Ticks is closed by the mux when the client is detached or dropped.
func (c *StreamClient) Ticks() <-chan domain.Tick { return c.ch }

// subscription is one symbol's interest entry.
// Invariant: refs == len(clients) + (alert ? 1 : 0).
type subscription struct {
	asset   domain.AssetType
	refs    int
	clients map[string]*StreamClient
	alert   bool
}

// InterestInfo is a read-only view of one subscription, used by tests and
// the stats surface.
type InterestInfo struct {
	Exists        bool
	Refs          int
	StreamClients int
	AlertInterest bool
}

type cmdKind int

const (
	cmdAttach cmdKind = iota
	cmdDetach
	cmdSyncAlerts
	cmdInspect
)

type muxCmd struct {
	kind   cmdKind
	client *StreamClient
	asset  domain.AssetType
	symbol string
	want   map[string]domain.AssetType
	info   *InterestInfo
	done   chan struct{}
}

// MuxDeps are the collaborators of the subscription multiplexer.
type MuxDeps struct {
	Cache        *domain.PriceCache
	Feeds        []port.PriceFeed
	Mirror       port.PriceMirror // optional
	ClientBuffer int
}

// Mux is the single authoritative owner of the subscription table. All
// mutations are funneled through its run loop, so refcounts never race; feed
// ticks, client attach/detach and alert interest all meet in one goroutine.
type Mux struct {
	deps  MuxDeps
	feeds map[domain.AssetType]port.PriceFeed
	subs  map[string]*subscription
	cmds  chan muxCmd
}

func NewMux(deps MuxDeps) *Mux {
	feeds := make(map[domain.AssetType]port.PriceFeed, len(deps.Feeds))
	for _, f := range deps.Feeds {
		feeds[f.Asset()] = f
	}
	return &Mux{
		deps:  deps,
		feeds: feeds,
		subs:  make(map[string]*subscription),
		cmds:  make(chan muxCmd, 64),
	}
}

// AttachStream registers a streaming consumer for its symbol and returns once
// the registration is visible to the fan-out loop.
func (m *Mux) AttachStream(ctx context.Context, c *StreamClient, asset domain.AssetType) error {
	return m.send(ctx, muxCmd{kind: cmdAttach, client: c, asset: asset})
}

// DetachStream releases a streaming consumer's interest. Safe to call for a
// client the mux already dropped.
func (m *Mux) DetachStream(ctx context.Context, c *StreamClient) error {
	return m.send(ctx, muxCmd{kind: cmdDetach, client: c})
}

// SyncAlertInterest reconciles the alert evaluator's symbol interest to the
// given set: missing symbols gain alert interest, symbols no longer wanted
// release it.
func (m *Mux) SyncAlertInterest(ctx context.Context, want map[string]domain.AssetType) error {
	return m.send(ctx, muxCmd{kind: cmdSyncAlerts, want: want})
}

// Interest reports the subscription state for a symbol.
func (m *Mux) Interest(ctx context.Context, symbol string) (InterestInfo, error) {
	info := &InterestInfo{}
	err := m.send(ctx, muxCmd{kind: cmdInspect, symbol: strings.ToUpper(symbol), info: info})
	return *info, err
}

func (m *Mux) send(ctx context.Context, cmd muxCmd) error {
	cmd.done = make(chan struct{})
	select {
	case m.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns the subscription table until ctx is cancelled.
func (m *Mux) Run(ctx context.Context) error {
	if len(m.feeds) == 0 {
		return errors.New("no feeds")
	}

	merged := make(chan domain.Tick, 1024)
	for _, feed := range m.feeds {
		go func(in <-chan domain.Tick) {
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-in:
					if !ok {
						return
					}
					select {
					case merged <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		}(feed.Ticks())
	}

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return ctx.Err()
		case cmd := <-m.cmds:
			m.handle(cmd)
			close(cmd.done)
		case t := <-merged:
			m.onTick(ctx, t)
		}
	}
}

func (m *Mux) handle(cmd muxCmd) {
	switch cmd.kind {
	case cmdAttach:
		m.attach(cmd.client, cmd.asset)
	case cmdDetach:
		m.detach(cmd.client)
	case cmdSyncAlerts:
		m.syncAlerts(cmd.want)
	case cmdInspect:
		if sub, ok := m.subs[cmd.symbol]; ok {
			*cmd.info = InterestInfo{
				Exists:        true,
				Refs:          sub.refs,
				StreamClients: len(sub.clients),
				AlertInterest: sub.alert,
			}
		}
	}
}

func (m *Mux) attach(c *StreamClient, asset domain.AssetType) {
	sub := m.ensure(c.symbol, asset)
	if prev, dup := sub.clients[c.id]; dup {
		if prev != c {
			// reject the second client under this id; closing its channel
			// unblocks its reader
			close(c.ch)
		}
		return
	}
	sub.clients[c.id] = c
	sub.refs++
}

func (m *Mux) detach(c *StreamClient) {
	sub, ok := m.subs[c.symbol]
	if !ok {
		return
	}
	if _, attached := sub.clients[c.id]; !attached {
		return
	}
	delete(sub.clients, c.id)
	close(c.ch)
	sub.refs--
	m.release(c.symbol, sub)
}

func (m *Mux) syncAlerts(want map[string]domain.AssetType) {
	for symbol, asset := range want {
		sub := m.ensure(symbol, asset)
		if !sub.alert {
			sub.alert = true
			sub.refs++
		}
	}
	for symbol, sub := range m.subs {
		if sub.alert {
			if _, still := want[symbol]; !still {
				sub.alert = false
				sub.refs--
				m.release(symbol, sub)
			}
		}
	}
}

// ensure creates the subscription on first interest; the 0→1 transition is
// the only place an upstream subscribe is issued.
func (m *Mux) ensure(symbol string, asset domain.AssetType) *subscription {
	if sub, ok := m.subs[symbol]; ok {
		return sub
	}
	sub := &subscription{asset: asset, clients: make(map[string]*StreamClient)}
	m.subs[symbol] = sub
	if feed, ok := m.feeds[asset]; ok {
		feed.Subscribe(symbol)
	} else {
		log.Warn().Str("symbol", symbol).Str("asset", string(asset)).Msg("no feed for asset type")
	}
	return sub
}

// release tears the subscription down on the 1→0 transition.
func (m *Mux) release(symbol string, sub *subscription) {
	if sub.refs > 0 {
		return
	}
	if feed, ok := m.feeds[sub.asset]; ok {
		feed.Unsubscribe(symbol)
	}
	delete(m.subs, symbol)
}

func (m *Mux) onTick(ctx context.Context, t domain.Tick) {
	if !m.deps.Cache.Set(t.Symbol, t.Price, t.Ts) {
		// out-of-order tick from a reconnect replay; fan-out would
		// reorder the stream, so it is dropped entirely
		return
	}
	if m.deps.Mirror != nil {
		if err := m.deps.Mirror.UpsertLatestPrice(ctx, t.Source, t.Symbol, t.Price, t.Ts); err != nil {
			log.Debug().Err(err).Str("symbol", t.Symbol).Msg("price mirror write failed")
		}
	}

	sub, ok := m.subs[t.Symbol]
	if !ok {
		return
	}

	var dropped []*StreamClient
	for _, c := range sub.clients {
		select {
		case c.ch <- t:
		default:
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		log.Warn().Str("client", c.id).Str("symbol", c.symbol).Msg("slow stream client dropped")
		delete(sub.clients, c.id)
		close(c.ch)
		sub.refs--
	}
	m.release(t.Symbol, sub)
}

func (m *Mux) closeAll() {
	for symbol, sub := range m.subs {
		for _, c := range sub.clients {
			close(c.ch)
		}
		delete(m.subs, symbol)
	}
}
