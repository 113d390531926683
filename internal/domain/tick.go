package domain

// AssetType distinguishes which venue family a symbol belongs to.
type AssetType string

const (
	AssetCrypto AssetType = "crypto"
	AssetStock  AssetType = "stock"
)

// Tick is one canonical price update. It is consumed and discarded after the
// cache update and fan-out; tick history is never persisted.
type Tick struct {
	Symbol string    `json:"symbol"`
	Asset  AssetType `json:"-"`
	Price  float64   `json:"price"`
	Ts     int64     `json:"timestamp"` // unix ms, venue event time when available
	Source string    `json:"-"`         // venue name, e.g. "BINANCE"
}
