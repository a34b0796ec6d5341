package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// SweepReporter exposes the last sweep summary.
type SweepReporter interface {
	LastSweep() service.SweepStats
}

// PriceReader is the part of service.PriceService the dashboard shows.
type PriceReader interface {
	GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error)
	ExchangeStatus() map[string]bool
}

// ConnCounter reports live WebSocket connections.
type ConnCounter interface {
	ConnectedCount() int
}

// DashboardHandler serves /admin/dashboard and /admin/prices/:symbol.
type DashboardHandler struct {
	positions PositionStore
	queue     SessionControlStore
	sweeps    SweepReporter
	prices    PriceReader
	hub       ConnCounter
}

// NewDashboardHandler creates a DashboardHandler. prices and hub may be nil.
func NewDashboardHandler(
	positions PositionStore,
	queue SessionControlStore,
	sweeps SweepReporter,
	prices PriceReader,
	hub ConnCounter,
) *DashboardHandler {
	return &DashboardHandler{
		positions: positions,
		queue:     queue,
		sweeps:    sweeps,
		prices:    prices,
		hub:       hub,
	}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	open, err := h.positions.Count(ctx, domain.PositionFilter{Status: domain.PositionOpen})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	pending, err := h.queue.CountPending(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}
	var exchanges map[string]bool
	if h.prices != nil {
		exchanges = h.prices.ExchangeStatus()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":         time.Now().UTC(),
		"open_positions":    open,
		"pending_overrides": pending,
		"last_sweep":        h.sweeps.LastSweep(),
		"ws_connections":    wsConnections,
		"exchanges":         exchanges,
	})
}

// Prices godoc
// GET /admin/prices/:symbol
func (h *DashboardHandler) Prices(c *gin.Context) {
	if h.prices == nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "price feed disabled")
		return
	}
	price, sources, err := h.prices.GetWeightedPrice(c.Request.Context(), c.Param("symbol"))
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"symbol":         domain.NormalizeSymbol(c.Param("symbol")),
		"weighted_price": price,
		"sources":        sources,
		"error":          errMsg,
	})
}
