package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/contract/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard admin response helpers (mirrors internal/api/handler/response.go)
// ──────────────────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// respondServiceError maps a service or repository error onto the envelope.
// Admins see the underlying message for internal errors.
func respondServiceError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", ve.Error())
	case errors.Is(err, domain.ErrPositionNotOpen):
		respondError(c, http.StatusConflict, "ERR_POSITION_NOT_OPEN", domain.ErrPositionNotOpen.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	case domain.IsTransient(err), errors.Is(err, domain.ErrPriceUnavailable):
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
	}
}

// adminPagination reads page/limit query params with sane defaults for admin views.
func adminPagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}

// actor returns the caller's user id as set by the admin JWT middleware.
func actor(c *gin.Context) string {
	return c.GetString("userID")
}
