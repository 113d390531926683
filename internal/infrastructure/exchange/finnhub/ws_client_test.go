package finnhub

import (
	"testing"

	"pricepulse/internal/domain"
)

func TestParseTradesFlattensBatch(t *testing.T) {
	raw := []byte(`{"type":"trade","data":[
		{"p":190.53,"s":"AAPL","t":1700000000000,"v":100},
		{"p":410.02,"s":"MSFT","t":1700000000500,"v":20}
	]}`)

	ticks := parseTrades(raw)
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}
	if ticks[0].Symbol != "AAPL" || ticks[0].Price != 190.53 || ticks[0].Ts != 1700000000000 {
		t.Errorf("unexpected first tick: %+v", ticks[0])
	}
	if ticks[1].Symbol != "MSFT" || ticks[1].Asset != domain.AssetStock {
		t.Errorf("unexpected second tick: %+v", ticks[1])
	}
}

func TestParseTradesDropsPingAndJunk(t *testing.T) {
	for _, raw := range []string{
		`{"type":"ping"}`,
		`{"type":"trade","data":[{"p":0,"s":"AAPL","t":1}]}`,
		`{"type":"trade","data":[{"p":10,"s":"","t":1}]}`,
		`garbage`,
	} {
		if ticks := parseTrades([]byte(raw)); len(ticks) != 0 {
			t.Errorf("expected %q to yield no ticks, got %v", raw, ticks)
		}
	}
}
