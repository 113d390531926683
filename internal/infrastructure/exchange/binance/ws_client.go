package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/exchange"
	"pricepulse/internal/infrastructure/feed"
)

const venueName = "BINANCE"

const readTimeout = 60 * time.Second

// Dialer opens Binance miniTicker sessions. Symbols are subscribed and
// unsubscribed live over the socket, so one connection serves a changing
// symbol set.
type Dialer struct {
	wsURL string // e.g. wss://stream.binance.com:9443/ws
	conv  exchange.SymbolConverter
}

func NewDialer(wsURL, quote string) *Dialer {
	if quote == "" {
		quote = "USDT"
	}
	return &Dialer{
		wsURL: strings.TrimSpace(wsURL),
		conv:  exchange.NewCommonSymbolConverter(quote),
	}
}

func (d *Dialer) Name() string            { return venueName }
func (d *Dialer) Asset() domain.AssetType { return domain.AssetCrypto }

func (d *Dialer) Dial(ctx context.Context) (feed.Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.wsURL, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	return &session{conn: conn, conv: d.conv}, nil
}

type session struct {
	conn *websocket.Conn
	conv exchange.SymbolConverter

	mu     sync.Mutex // guards data writes; control frames are safe concurrently
	nextID int
}

type controlMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (s *session) Subscribe(symbols ...string) error {
	return s.control("SUBSCRIBE", symbols)
}

func (s *session) Unsubscribe(symbols ...string) error {
	return s.control("UNSUBSCRIBE", symbols)
}

func (s *session) control(method string, symbols []string) error {
	params := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		pair := s.conv.Coin2Symbol(sym)
		if pair == "" {
			continue
		}
		params = append(params, strings.ToLower(pair)+"@miniTicker")
	}
	if len(params) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(controlMsg{Method: method, Params: params, ID: s.nextID})
}

func (s *session) ReadTick() (domain.Tick, bool, error) {
	_, b, err := s.conn.ReadMessage()
	if err != nil {
		return domain.Tick{}, false, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	t, ok := parseTick(b, s.conv)
	return t, ok, nil
}

func (s *session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
}

func (s *session) Close() error { return s.conn.Close() }

type miniTickerMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// parseTick turns a miniTicker frame into a canonical tick. Subscription
// acks and anything unparseable are dropped.
func parseTick(b []byte, conv exchange.SymbolConverter) (domain.Tick, bool) {
	var msg miniTickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("feed", venueName).Err(err).Msg("malformed message dropped")
		return domain.Tick{}, false
	}
	if msg.Event != "24hrMiniTicker" {
		// control ack or unrelated event
		return domain.Tick{}, false
	}
	px, err := strconv.ParseFloat(strings.TrimSpace(msg.Close), 64)
	if err != nil || px <= 0 {
		log.Debug().Str("feed", venueName).Str("symbol", msg.Symbol).Msg("unparseable price dropped")
		return domain.Tick{}, false
	}
	ts := msg.EventTime
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	return domain.Tick{
		Symbol: conv.Symbol2Coin(msg.Symbol),
		Asset:  domain.AssetCrypto,
		Price:  px,
		Ts:     ts,
		Source: venueName,
	}, true
}
