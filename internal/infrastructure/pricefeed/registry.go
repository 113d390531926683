package pricefeed

import (
	"strings"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/infrastructure/feed"
)

// Options carries the venue-specific wiring a factory may need. Venues
// ignore fields that do not apply to them.
type Options struct {
	WsURL string
	Token string
	Quote string // quote currency for pair-based venues, e.g. USDT
}

type Factory func(o Options) feed.Dialer

// registry maps venue names to their dialer factories. Venue packages
// self-register from init().
var registry = make(map[string]Factory)

func Register(venue string, factory Factory) {
	venue = strings.ToLower(venue)
	if factory == nil {
		log.Warn().Str("venue", venue).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[venue]; exists {
		log.Warn().Str("venue", venue).Msg("price feed factory already registered, overwriting")
	}
	registry[venue] = factory
	log.Debug().Str("venue", venue).Msg("price feed factory registered")
}

func Get(venue string) (Factory, bool) {
	factory, ok := registry[strings.ToLower(venue)]
	return factory, ok
}
