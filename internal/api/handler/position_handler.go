package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/evetabi/contract/internal/api/middleware"
	"github.com/evetabi/contract/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionService is the part of service.PositionService the handlers use.
type PositionService interface {
	Open(ctx context.Context, req domain.OpenPositionRequest) (*domain.Position, error)
	List(ctx context.Context, userID uuid.UUID, status domain.PositionStatus, limit int) ([]*domain.Position, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*domain.Position, error)
	Balance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
}

// PositionHandler serves position open and history endpoints.
type PositionHandler struct {
	positionSvc PositionService
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positionSvc PositionService) *PositionHandler {
	return &PositionHandler{positionSvc: positionSvc}
}

// Open godoc
// POST /api/contract/position [JWT]
// Body: {"symbol":"BTCUSDT","side":"BUY_UP","amount":"100","duration":60,"currentPrice":"65000.5","profitability":"25"}
func (h *PositionHandler) Open(c *gin.Context) {
	var body struct {
		Symbol        string          `json:"symbol"   binding:"required"`
		Side          string          `json:"side"     binding:"required"`
		Amount        decimal.Decimal `json:"amount"`
		Duration      int             `json:"duration" binding:"required"`
		CurrentPrice  decimal.Decimal `json:"currentPrice"`
		Profitability decimal.Decimal `json:"profitability"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	pos, err := h.positionSvc.Open(c.Request.Context(), domain.OpenPositionRequest{
		UserID:        middleware.GetUserID(c),
		Symbol:        body.Symbol,
		Side:          domain.Side(strings.ToUpper(body.Side)),
		Amount:        body.Amount,
		Duration:      body.Duration,
		CurrentPrice:  body.CurrentPrice,
		Profitability: body.Profitability,
	})
	if err != nil {
		respondServiceError(c, err, "could not open position")
		return
	}
	respondSuccess(c, http.StatusCreated, pos.ToResponse())
}

// List godoc
// GET /api/contract/positions?status=OPEN|CLOSED&limit=30 [JWT]
func (h *PositionHandler) List(c *gin.Context) {
	limit := parseLimit(c)
	status := domain.PositionStatus(strings.ToUpper(c.Query("status")))

	positions, err := h.positionSvc.List(c.Request.Context(), middleware.GetUserID(c), status, limit)
	if err != nil {
		respondServiceError(c, err, "could not fetch positions")
		return
	}
	out := make([]domain.PositionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.ToResponse())
	}
	respondList(c, out, len(out), limit)
}

// Get godoc
// GET /api/contract/positions/:id [JWT]
func (h *PositionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid position id")
		return
	}
	pos, err := h.positionSvc.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondServiceError(c, err, "could not fetch position")
		return
	}
	respondSuccess(c, http.StatusOK, pos.ToResponse())
}

// Balance godoc
// GET /api/wallet/balance [JWT]
func (h *PositionHandler) Balance(c *gin.Context) {
	w, err := h.positionSvc.Balance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondServiceError(c, err, "could not fetch balance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"asset":     w.Asset,
		"available": w.Available,
	})
}
