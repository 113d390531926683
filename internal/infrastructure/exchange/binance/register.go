package binance

import (
	"pricepulse/internal/infrastructure/feed"
	"pricepulse/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register("binance", func(o pricefeed.Options) feed.Dialer {
		return NewDialer(o.WsURL, o.Quote)
	})
}
