package handler

import (
	"context"
	"net/http"

	"github.com/evetabi/contract/internal/api/middleware"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Settler is the part of service.SettlementService the handlers use.
type Settler interface {
	SettleExpired(ctx context.Context, scope service.SweepScope, currentPrice decimal.Decimal) (*service.SweepResult, error)
}

// SettleHandler triggers settlement sweeps.
type SettleHandler struct {
	settler  Settler
	schedule *domain.Schedule
}

// NewSettleHandler creates a SettleHandler.
func NewSettleHandler(settler Settler, schedule *domain.Schedule) *SettleHandler {
	return &SettleHandler{settler: settler, schedule: schedule}
}

type settleBody struct {
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Symbol       string          `json:"symbol"`
}

// Settle godoc
// POST /api/contract/settle
// Body: {"currentPrice":"65000.5","symbol":"BTCUSDT"}
func (h *SettleHandler) Settle(c *gin.Context) {
	var body settleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "currentPrice must be a number")
		return
	}
	h.settleGlobal(c, body.Symbol, body.CurrentPrice)
}

// SettleQuery godoc
// GET /api/contract/settle?currentPrice=65000.5&symbol=BTCUSDT
func (h *SettleHandler) SettleQuery(c *gin.Context) {
	price, err := decimal.NewFromString(c.Query("currentPrice"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "currentPrice must be a number")
		return
	}
	h.settleGlobal(c, c.Query("symbol"), price)
}

func (h *SettleHandler) settleGlobal(c *gin.Context, symbol string, price decimal.Decimal) {
	res, err := h.settler.SettleExpired(c.Request.Context(), service.SweepScope{Symbol: symbol}, price)
	if err != nil {
		respondServiceError(c, err, "could not settle positions")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"settled": len(res.Settled),
		"failed":  len(res.Failures),
	})
}

// SettleUser godoc
// POST /api/contract/settle-user [JWT]
// Body: {"currentPrice":"65000.5","symbol":"BTCUSDT"}
func (h *SettleHandler) SettleUser(c *gin.Context) {
	var body settleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "currentPrice must be a number")
		return
	}
	userID := middleware.GetUserID(c)

	res, err := h.settler.SettleExpired(c.Request.Context(),
		service.SweepScope{UserID: &userID, Symbol: body.Symbol}, body.CurrentPrice)
	if err != nil {
		respondServiceError(c, err, "could not settle positions")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"settled":   len(res.Settled),
		"positions": res.Settled,
	})
}

// Schedule godoc
// GET /api/contract/schedule
func (h *SettleHandler) Schedule(c *gin.Context) {
	if h.schedule == nil {
		respondSuccess(c, http.StatusOK, []domain.DurationOption{})
		return
	}
	respondSuccess(c, http.StatusOK, h.schedule.Options())
}
