package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/evetabi/contract/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStore is the read side of repository.PositionRepository.
type PositionStore interface {
	List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error)
	Count(ctx context.Context, f domain.PositionFilter) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Position, error)
}

// TransactionStore returns the ledger rows of one position.
type TransactionStore interface {
	GetTransactions(ctx context.Context, positionID uuid.UUID) ([]*domain.Transaction, error)
}

// ManualCloser closes one position on an operator's request.
// Implemented by service.SettlementService.
type ManualCloser interface {
	CloseManually(ctx context.Context, id uuid.UUID, exitPrice decimal.Decimal, forced *domain.Result, actor string) (*domain.Position, error)
}

// PositionAdminHandler serves /admin/positions.
type PositionAdminHandler struct {
	positions PositionStore
	txns      TransactionStore
	closer    ManualCloser
}

// NewPositionAdminHandler creates a PositionAdminHandler.
func NewPositionAdminHandler(positions PositionStore, txns TransactionStore, closer ManualCloser) *PositionAdminHandler {
	return &PositionAdminHandler{positions: positions, txns: txns, closer: closer}
}

// List godoc
// GET /admin/positions?status=OPEN&symbol=BTCUSDT&user_id=uuid&page=1&limit=50
func (h *PositionAdminHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	page, limit := adminPagination(c)

	f := domain.PositionFilter{
		Symbol: domain.NormalizeSymbol(c.Query("symbol")),
		Status: domain.PositionStatus(strings.ToUpper(c.Query("status"))),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if f.Status != "" && !f.Status.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "status must be OPEN or CLOSED")
		return
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid user_id")
			return
		}
		f.UserID = &id
	}

	positions, err := h.positions.List(ctx, f)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	total, err := h.positions.Count(ctx, f)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, positions, total, page, limit)
}

// Detail godoc
// GET /admin/positions/:id
func (h *PositionAdminHandler) Detail(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid id")
		return
	}
	pos, err := h.positions.GetByID(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	txns, err := h.txns.GetTransactions(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"position": pos, "transactions": txns})
}

// Close godoc
// POST /admin/positions/:id/close
// Body: {"exitPrice":"65000.5","result":"WIN"} (result optional)
func (h *PositionAdminHandler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid id")
		return
	}
	var body struct {
		ExitPrice decimal.Decimal `json:"exitPrice"`
		Result    string          `json:"result"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "exitPrice must be a number")
		return
	}

	var forced *domain.Result
	if body.Result != "" {
		r := domain.Result(strings.ToUpper(body.Result))
		forced = &r
	}

	pos, err := h.closer.CloseManually(c.Request.Context(), id, body.ExitPrice, forced, actor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pos)
}
