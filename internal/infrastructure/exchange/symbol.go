package exchange

import (
	"strings"

	"pricepulse/internal/domain"
)

// SymbolConverter maps between canonical symbols and venue trading pairs.
type SymbolConverter interface {
	// Symbol2Coin strips the venue pair down to the canonical symbol.
	// e.g. BTCUSDT -> BTC
	Symbol2Coin(symbol string) string

	// Coin2Symbol builds the venue pair for a canonical symbol.
	// e.g. BTC -> BTCUSDT
	Coin2Symbol(coin string) string
}

// CommonSymbolConverter appends/strips a fixed quote suffix.
type CommonSymbolConverter struct {
	suffix string
}

func NewCommonSymbolConverter(suffix string) *CommonSymbolConverter {
	return &CommonSymbolConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

func (c *CommonSymbolConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	return strings.TrimSuffix(sym, c.suffix)
}

func (c *CommonSymbolConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if strings.HasSuffix(coin, c.suffix) {
		return coin
	}
	return coin + c.suffix
}

// AssetClassifier decides which venue family serves a bare symbol when the
// caller does not say. Explicit overrides win; otherwise symbols in the known
// crypto list are crypto and everything else is a stock ticker.
type AssetClassifier struct {
	crypto map[string]struct{}
}

func NewAssetClassifier(cryptoSymbols []string) *AssetClassifier {
	set := make(map[string]struct{}, len(cryptoSymbols))
	for _, s := range cryptoSymbols {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u != "" {
			set[u] = struct{}{}
		}
	}
	return &AssetClassifier{crypto: set}
}

// Classify resolves the asset type for a symbol. hint is the caller-supplied
// type ("crypto"/"stock"), which always wins when valid.
func (c *AssetClassifier) Classify(symbol, hint string) domain.AssetType {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case string(domain.AssetCrypto):
		return domain.AssetCrypto
	case string(domain.AssetStock):
		return domain.AssetStock
	}
	if _, ok := c.crypto[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return domain.AssetCrypto
	}
	return domain.AssetStock
}
