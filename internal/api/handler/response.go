package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/contract/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"limit": limit,
		},
	})
}

// respondServiceError maps a service error onto the error envelope. Internal
// errors are reported with fallback so storage details never reach clients.
func respondServiceError(c *gin.Context, err error, fallback string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", ve.Error())
	case errors.Is(err, domain.ErrOpenPositionExists):
		respondError(c, http.StatusConflict, "ERR_POSITION_OPEN", domain.ErrOpenPositionExists.Error())
	case errors.Is(err, domain.ErrPositionNotOpen):
		respondError(c, http.StatusConflict, "ERR_POSITION_NOT_OPEN", domain.ErrPositionNotOpen.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondError(c, http.StatusPaymentRequired, "ERR_INSUFFICIENT_BALANCE", domain.ErrInsufficientBalance.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "not found")
	case domain.IsTransient(err), errors.Is(err, domain.ErrPriceUnavailable):
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "temporarily unavailable, retry")
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
	}
}

// parseLimit reads ?limit= with a default of 30, capped at 100.
func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if err != nil || limit < 1 {
		return 30
	}
	if limit > 100 {
		return 100
	}
	return limit
}
