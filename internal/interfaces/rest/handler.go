package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/service"
	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/exchange"
)

const ownerHeader = "X-User-ID"

// StreamConfig bounds the SSE fan-out behavior.
type StreamConfig struct {
	ClientBuffer     int
	HeartbeatInitial time.Duration
	HeartbeatSteady  time.Duration
	WarmupHeartbeats int
}

// Handler exposes the alert and live-price surface over HTTP.
type Handler struct {
	svc        *service.AlertService
	mux        *service.Mux
	cache      *domain.PriceCache
	quotes     port.QuoteFetcher
	classifier *exchange.AssetClassifier
	stream     StreamConfig
}

func NewHandler(svc *service.AlertService, mux *service.Mux, cache *domain.PriceCache,
	quotes port.QuoteFetcher, classifier *exchange.AssetClassifier, stream StreamConfig) *Handler {
	if stream.ClientBuffer <= 0 {
		stream.ClientBuffer = 64
	}
	if stream.HeartbeatInitial <= 0 {
		stream.HeartbeatInitial = 5 * time.Second
	}
	if stream.HeartbeatSteady <= 0 {
		stream.HeartbeatSteady = 30 * time.Second
	}
	if stream.WarmupHeartbeats <= 0 {
		stream.WarmupHeartbeats = 5
	}
	return &Handler{svc: svc, mux: mux, cache: cache, quotes: quotes, classifier: classifier, stream: stream}
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	alerts := r.Group("/alerts", requireOwner())
	{
		alerts.POST("", h.createAlert(""))
		alerts.POST("/price", h.createAlert("price"))
		alerts.POST("/percent-change", h.createAlert(domain.KindPercentChange))
		alerts.POST("/technical", h.createAlert(domain.KindTechnical))
		alerts.POST("/pattern", h.createAlert(domain.KindPattern))

		alerts.GET("", h.listAlerts(""))
		alerts.GET("/active", h.listAlerts(domain.StatusActive))
		alerts.GET("/triggered", h.listAlerts(domain.StatusTriggered))
		alerts.GET("/stats", h.alertStats)
		alerts.GET("/:id", h.getAlert)
		alerts.PUT("/:id", h.updateAlert)
		alerts.DELETE("/:id", h.deleteAlert)

		alerts.POST("/batch-delete", h.batchDelete)
		alerts.POST("/mark-read", h.markRead)
		alerts.POST("/test/:id", h.testTrigger)
	}

	r.GET("/notifications", requireOwner(), h.listNotifications)

	live := r.Group("/live-price")
	{
		live.GET("/current/:symbol", h.currentPrice)
		live.GET("/:symbol", h.streamPrice)
	}

	return r
}

// requireOwner resolves the caller identity from the X-User-ID header.
func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(ownerHeader)
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing " + ownerHeader + " header",
			})
			return
		}
		c.Set("owner", owner)
		c.Next()
	}
}

func owner(c *gin.Context) string { return c.GetString("owner") }

func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, port.ErrNotFound), errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "alert not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}

type createAlertRequest struct {
	Symbol             string          `json:"symbol"`
	AssetType          string          `json:"assetType"`
	Kind               string          `json:"alertType"`
	TargetPrice        decimal.Decimal `json:"targetPrice"`
	PercentChange      decimal.Decimal `json:"percentChange"`
	PortfolioThreshold decimal.Decimal `json:"portfolioThreshold"`
	Condition          string          `json:"condition"`
	Timeframe          string          `json:"timeframe"`
	NotifyVia          string          `json:"notifyVia"`
	CustomMessage      string          `json:"customMessage"`
	Recurring          bool            `json:"recurring"`
	ExpiresAt          *time.Time      `json:"expiresAt"`
}

// createAlert handles both the generic endpoint and the kind-scoped ones.
// The "price" scope picks price_above or price_below from the condition field.
func (h *Handler) createAlert(forced domain.AlertKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAlertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
			return
		}

		kind := domain.AlertKind(req.Kind)
		switch forced {
		case "price":
			if req.Condition == domain.ConditionBelow {
				kind = domain.KindPriceBelow
			} else {
				kind = domain.KindPriceAbove
			}
		case "":
		default:
			kind = forced
		}

		in := service.CreateAlertInput{
			Owner:              owner(c),
			Symbol:             req.Symbol,
			Asset:              h.classifier.Classify(req.Symbol, req.AssetType),
			Kind:               kind,
			TargetPrice:        req.TargetPrice,
			PercentChange:      req.PercentChange,
			PortfolioThreshold: req.PortfolioThreshold,
			Condition:          req.Condition,
			Timeframe:          req.Timeframe,
			NotifyVia:          req.NotifyVia,
			CustomMessage:      req.CustomMessage,
			Recurring:          req.Recurring,
			ExpiresAt:          req.ExpiresAt,
		}

		a, err := h.svc.Create(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": a})
	}
}

func (h *Handler) listAlerts(status domain.AlertStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := status
		if want == "" {
			want = domain.AlertStatus(c.Query("status"))
		}
		alerts, err := h.svc.List(c.Request.Context(), owner(c), want)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": alerts, "count": len(alerts)})
	}
}

func (h *Handler) alertStats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), owner(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": st})
}

func (h *Handler) getAlert(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
}

type updateAlertRequest struct {
	TargetPrice   *decimal.Decimal `json:"targetPrice"`
	PercentChange *decimal.Decimal `json:"percentChange"`
	Timeframe     *string          `json:"timeframe"`
	NotifyVia     *string          `json:"notifyVia"`
	CustomMessage *string          `json:"customMessage"`
	ExpiresAt     *time.Time       `json:"expiresAt"`
	Status        *string          `json:"status"`
}

func (h *Handler) updateAlert(c *gin.Context) {
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}

	in := service.UpdateAlertInput{
		TargetPrice:   req.TargetPrice,
		PercentChange: req.PercentChange,
		Timeframe:     req.Timeframe,
		NotifyVia:     req.NotifyVia,
		CustomMessage: req.CustomMessage,
		ExpiresAt:     req.ExpiresAt,
	}
	if req.Status != nil {
		st := domain.AlertStatus(*req.Status)
		in.Status = &st
	}

	a, err := h.svc.Update(c.Request.Context(), owner(c), c.Param("id"), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
}

func (h *Handler) deleteAlert(c *gin.Context) {
	a, err := h.svc.Cancel(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) batchDelete(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	n := h.svc.BatchCancel(c.Request.Context(), owner(c), req.IDs)
	c.JSON(http.StatusOK, gin.H{"success": true, "cancelled": n})
}

func (h *Handler) markRead(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	n, err := h.svc.MarkRead(c.Request.Context(), owner(c), req.IDs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "marked": n})
}

func (h *Handler) testTrigger(c *gin.Context) {
	a, err := h.svc.TestTrigger(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": a})
}

func (h *Handler) listNotifications(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	notes, err := h.svc.Notifications(c.Request.Context(), owner(c), unreadOnly)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": notes, "count": len(notes)})
}
