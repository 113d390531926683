package port

import "pricepulse/internal/domain"

// PriceFeed is one upstream venue connection as seen by the multiplexer.
// Subscribe and Unsubscribe are control requests; while the connection is
// down they update the desired symbol set and are replayed on reconnect.
type PriceFeed interface {
	Name() string
	Asset() domain.AssetType
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	Ticks() <-chan domain.Tick
}
