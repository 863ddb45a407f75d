package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/usecase"
)

type IntentionHandler struct {
	uc     *usecase.IntentionUsecase
	logger *slog.Logger
}

func NewIntentionHandler(uc *usecase.IntentionUsecase, logger *slog.Logger) *IntentionHandler {
	return &IntentionHandler{uc: uc, logger: logger.With("component", "intention_handler")}
}

type pendingIntentionItem struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	RepoID    string    `json:"repo_id"`
	Running   bool      `json:"running"`
	CreatedAt time.Time `json:"created_at"`
}

type archivedIntentionItem struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RepoID      string    `json:"repo_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// GET /intentions?kind=
func (h *IntentionHandler) ListPending(ctx *gin.Context) {
	ins, err := h.uc.ListPending(ctx.Request.Context(), ctx.GetString("userID"), ctx.Query("kind"))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownKind) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errUnknownKind})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list intentions", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]pendingIntentionItem, len(ins))
	for i, in := range ins {
		items[i] = pendingIntentionItem{
			ID:        in.ID,
			Kind:      string(in.Kind),
			RepoID:    in.RepoID,
			Running:   in.JobID != nil,
			CreatedAt: in.CreatedAt,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"intentions": items})
}

// GET /intentions/archived?kind=&cursor=&limit=
func (h *IntentionHandler) ListArchived(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.uc.ListArchived(ctx.Request.Context(), usecase.ListArchivedInput{
		UserID: ctx.GetString("userID"),
		Kind:   ctx.Query("kind"),
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownKind):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errUnknownKind})
		case errors.Is(err, domain.ErrBadCursor):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errBadCursor})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "list archived intentions", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	items := make([]archivedIntentionItem, len(result.Intentions))
	for i, a := range result.Intentions {
		items[i] = archivedIntentionItem{
			ID:          a.ID,
			Kind:        string(a.Kind),
			RepoID:      a.RepoID,
			Status:      string(a.Status),
			CreatedAt:   a.CreatedAt,
			CompletedAt: a.CompletedAt,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"intentions":  items,
		"next_cursor": result.NextCursor,
	})
}
