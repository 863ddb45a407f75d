package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/usecase"
)

type ScheduledHandler struct {
	uc     *usecase.ScheduleUsecase
	logger *slog.Logger
}

func NewScheduledHandler(uc *usecase.ScheduleUsecase, logger *slog.Logger) *ScheduledHandler {
	return &ScheduledHandler{uc: uc, logger: logger.With("component", "scheduled_handler")}
}

type targetArgsPayload struct {
	URL   string `json:"url,omitempty"   binding:"omitempty,max=2048"`
	Owner string `json:"owner,omitempty" binding:"omitempty,max=256"`
	Repo  string `json:"repo,omitempty"  binding:"omitempty,max=256"`
	Group string `json:"group,omitempty" binding:"omitempty,max=256"`
}

type createScheduledRequest struct {
	Kind        string            `json:"kind"          binding:"required,max=32"`
	Args        targetArgsPayload `json:"args"          binding:"required"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	DependsOnID *string           `json:"depends_on_id"`
	RepeatHours *int              `json:"repeat_hours"  binding:"omitempty,min=0,max=8760"`
	CronExpr    *string           `json:"cron_expr"     binding:"omitempty,max=256"`
}

type scheduledResponse struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Args        targetArgsPayload `json:"args"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	DependsOnID *string           `json:"depends_on_id,omitempty"`
	RepeatHours *int              `json:"repeat_hours,omitempty"`
	CronExpr    *string           `json:"cron_expr,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toScheduledResponse(s *domain.ScheduledIntention) scheduledResponse {
	return scheduledResponse{
		ID:   s.ID,
		Kind: string(s.Kind),
		Args: targetArgsPayload{
			URL:   s.Args.URL,
			Owner: s.Args.Owner,
			Repo:  s.Args.Repo,
			Group: s.Args.Group,
		},
		ScheduledAt: s.ScheduledAt,
		DependsOnID: s.DependsOnID,
		RepeatHours: s.RepeatHours,
		CronExpr:    s.CronExpr,
		CreatedAt:   s.CreatedAt,
	}
}

func (h *ScheduledHandler) Create(ctx *gin.Context) {
	var req createScheduledRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.CreateScheduled(ctx.Request.Context(), usecase.CreateScheduledInput{
		UserID: ctx.GetString("userID"),
		Kind:   req.Kind,
		Args: domain.TargetArgs{
			URL:   req.Args.URL,
			Owner: req.Args.Owner,
			Repo:  req.Args.Repo,
			Group: req.Args.Group,
		},
		ScheduledAt: req.ScheduledAt,
		DependsOnID: req.DependsOnID,
		RepeatHours: req.RepeatHours,
		CronExpr:    req.CronExpr,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownKind):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errUnknownKind})
		case errors.Is(err, domain.ErrBadTarget):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrInvalidSchedule):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSchedule})
		case errors.Is(err, domain.ErrInvalidCronExpr):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCronExpr})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "create scheduled intention", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toScheduledResponse(s))
}

func (h *ScheduledHandler) List(ctx *gin.Context) {
	rows, err := h.uc.ListScheduled(ctx.Request.Context(), ctx.GetString("userID"))
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list scheduled intentions", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]scheduledResponse, len(rows))
	for i, s := range rows {
		items[i] = toScheduledResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"scheduled": items})
}

func (h *ScheduledHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.uc.DeleteScheduled(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrScheduledNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduledNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "delete scheduled intention", "scheduled_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.Status(http.StatusNoContent)
}
