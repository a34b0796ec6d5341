package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/evetabi/contract/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxEnqueue caps how many entries one request may append.
const maxEnqueue = 1000

// SessionControlStore is the override queue storage used by the handler.
// Implemented by repository.SessionControlRepository.
type SessionControlStore interface {
	Enqueue(ctx context.Context, result domain.Result, count int, createdBy string) ([]*domain.SessionControl, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, pendingOnly bool, limit, offset int) ([]*domain.SessionControl, error)
	CountPending(ctx context.Context) (int, error)
}

// SessionControlHandler serves /admin/session-controls.
type SessionControlHandler struct {
	store SessionControlStore
}

// NewSessionControlHandler creates a SessionControlHandler.
func NewSessionControlHandler(store SessionControlStore) *SessionControlHandler {
	return &SessionControlHandler{store: store}
}

// List godoc
// GET /admin/session-controls?pending=true&page=1&limit=50
func (h *SessionControlHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	page, limit := adminPagination(c)
	pendingOnly := c.Query("pending") == "true"

	entries, err := h.store.List(ctx, pendingOnly, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	pending, err := h.store.CountPending(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, entries, pending, page, limit)
}

// Enqueue godoc
// POST /admin/session-controls
// Body: {"result":"WIN","count":3}
func (h *SessionControlHandler) Enqueue(c *gin.Context) {
	var body struct {
		Result string `json:"result" binding:"required"`
		Count  int    `json:"count"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	result := domain.Result(strings.ToUpper(body.Result))
	if !result.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "result must be WIN or LOSS")
		return
	}
	if body.Count == 0 {
		body.Count = 1
	}
	if body.Count < 0 || body.Count > maxEnqueue {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "count must be between 1 and 1000")
		return
	}

	entries, err := h.store.Enqueue(c.Request.Context(), result, body.Count, actor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, entries)
}

// Cancel godoc
// DELETE /admin/session-controls/:id
func (h *SessionControlHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid id")
		return
	}
	if err := h.store.Cancel(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"id": id, "cancelled": true})
}
