package finnhub

import (
	"pricepulse/internal/infrastructure/feed"
	"pricepulse/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register("finnhub", func(o pricefeed.Options) feed.Dialer {
		return NewDialer(o.WsURL, o.Token)
	})
}
