package finnhub

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/feed"
)

const venueName = "FINNHUB"

const readTimeout = 90 * time.Second

// Dialer opens Finnhub trade-stream sessions for equity tickers. Finnhub
// authenticates with an API token passed as a query parameter.
type Dialer struct {
	wsURL string // e.g. wss://ws.finnhub.io
	token string
}

func NewDialer(wsURL, token string) *Dialer {
	return &Dialer{wsURL: strings.TrimSpace(wsURL), token: strings.TrimSpace(token)}
}

func (d *Dialer) Name() string            { return venueName }
func (d *Dialer) Asset() domain.AssetType { return domain.AssetStock }

func (d *Dialer) Dial(ctx context.Context) (feed.Session, error) {
	u := d.wsURL
	if d.token != "" {
		u += "?token=" + url.QueryEscape(d.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	return &session{conn: conn}, nil
}

// session reads Finnhub trade batches. One inbound frame can carry several
// trades, so parsed ticks queue in pending and drain one per ReadTick call.
type session struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	pending []domain.Tick
}

type controlMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (s *session) Subscribe(symbols ...string) error {
	return s.control("subscribe", symbols)
}

func (s *session) Unsubscribe(symbols ...string) error {
	return s.control("unsubscribe", symbols)
}

func (s *session) control(typ string, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := s.conn.WriteJSON(controlMsg{Type: typ, Symbol: sym}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) ReadTick() (domain.Tick, bool, error) {
	if t, ok := s.pop(); ok {
		return t, true, nil
	}

	_, b, err := s.conn.ReadMessage()
	if err != nil {
		return domain.Tick{}, false, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

	ticks := parseTrades(b)
	if len(ticks) == 0 {
		return domain.Tick{}, false, nil
	}
	s.mu.Lock()
	s.pending = append(s.pending, ticks[1:]...)
	s.mu.Unlock()
	return ticks[0], true, nil
}

func (s *session) pop() (domain.Tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return domain.Tick{}, false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	return t, true
}

func (s *session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
}

func (s *session) Close() error { return s.conn.Close() }

type tradeMsg struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		Ts     int64   `json:"t"`
		Volume float64 `json:"v"`
	} `json:"data"`
}

// parseTrades flattens one trade frame into canonical ticks. Finnhub's
// application-level "ping" messages and malformed frames yield nothing.
func parseTrades(b []byte) []domain.Tick {
	var msg tradeMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("feed", venueName).Err(err).Msg("malformed message dropped")
		return nil
	}
	if msg.Type != "trade" {
		return nil
	}
	out := make([]domain.Tick, 0, len(msg.Data))
	for _, d := range msg.Data {
		sym := strings.ToUpper(strings.TrimSpace(d.Symbol))
		if sym == "" || d.Price <= 0 {
			continue
		}
		ts := d.Ts
		if ts <= 0 {
			ts = time.Now().UnixMilli()
		}
		out = append(out, domain.Tick{
			Symbol: sym,
			Asset:  domain.AssetStock,
			Price:  d.Price,
			Ts:     ts,
			Source: venueName,
		})
	}
	return out
}
