package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/service"
)

type streamEvent struct {
	Type      string  `json:"type,omitempty"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Cached    bool    `json:"cached,omitempty"`
}

// streamPrice serves one symbol's tick stream over SSE. The connection holds
// a subscription reference for its whole lifetime; disconnect releases it.
func (h *Handler) streamPrice(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "symbol required"})
		return
	}
	asset := h.classifier.Classify(symbol, c.Query("assetType"))

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	client := service.NewStreamClient(uuid.NewString(), symbol, h.stream.ClientBuffer)
	if err := h.mux.AttachStream(ctx, client, asset); err != nil {
		return
	}
	defer func() {
		// detach with a fresh context; the request context is already done
		dctx, cancel := contextWithTimeout(5 * time.Second)
		defer cancel()
		if err := h.mux.DetachStream(dctx, client); err != nil {
			log.Warn().Err(err).Str("client", client.ID()).Msg("stream detach failed")
		}
	}()

	writeEvent(c, streamEvent{Type: "connected", Symbol: symbol})
	if entry, ok := h.cache.Get(symbol); ok {
		// replay the freshest known price so the client renders immediately
		writeEvent(c, streamEvent{Symbol: symbol, Price: entry.Price, Timestamp: entry.Ts, Cached: true})
	}
	flusher.Flush()

	// frequent heartbeats while the proxy path warms up, then relaxed
	beats := 0
	heartbeat := time.NewTimer(h.stream.HeartbeatInitial)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-client.Ticks():
			if !ok {
				// dropped by the mux as a slow consumer
				return
			}
			writeEvent(c, streamEvent{Symbol: t.Symbol, Price: t.Price, Timestamp: t.Ts})
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
			beats++
			if beats < h.stream.WarmupHeartbeats {
				heartbeat.Reset(h.stream.HeartbeatInitial)
			} else {
				heartbeat.Reset(h.stream.HeartbeatSteady)
			}
		}
	}
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func writeEvent(c *gin.Context, ev streamEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", b)
}

// currentPrice is the non-streaming snapshot: cache first, venue REST second.
func (h *Handler) currentPrice(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "symbol required"})
		return
	}

	if entry, ok := h.cache.Get(symbol); ok {
		c.JSON(http.StatusOK, gin.H{
			"success": true, "symbol": symbol, "price": entry.Price, "timestamp": entry.Ts, "cached": true,
		})
		return
	}

	asset := h.classifier.Classify(symbol, c.Query("assetType"))
	price, err := h.quotes.FetchQuote(c.Request.Context(), asset, symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "symbol": symbol, "price": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true, "symbol": symbol, "price": price, "timestamp": time.Now().UnixMilli(), "cached": false,
	})
}
