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

type TokenHandler struct {
	uc     *usecase.TokenUsecase
	logger *slog.Logger
}

func NewTokenHandler(uc *usecase.TokenUsecase, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{uc: uc, logger: logger.With("component", "token_handler")}
}

type registerTokenRequest struct {
	Source        string  `json:"source"         binding:"required,max=32"`
	Secret        string  `json:"secret"         binding:"required,max=512"`
	RefreshSecret *string `json:"refresh_secret" binding:"omitempty,max=512"`
}

// tokenResponse never carries the secret; it left the server once at
// registration and that is enough.
type tokenResponse struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	ResetAt   time.Time `json:"reset_at"`
	CreatedAt time.Time `json:"created_at"`
}

func toTokenResponse(t *domain.Token) tokenResponse {
	return tokenResponse{
		ID:        t.ID,
		Source:    string(t.Source),
		ResetAt:   t.ResetAt,
		CreatedAt: t.CreatedAt,
	}
}

func (h *TokenHandler) Register(ctx *gin.Context) {
	var req registerTokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.uc.RegisterToken(ctx.Request.Context(), usecase.RegisterTokenInput{
		UserID:        ctx.GetString("userID"),
		Source:        req.Source,
		Secret:        req.Secret,
		RefreshSecret: req.RefreshSecret,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTokenlessSource) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errTokenlessSource})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "register token", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, toTokenResponse(t))
}

func (h *TokenHandler) List(ctx *gin.Context) {
	tokens, err := h.uc.ListTokens(ctx.Request.Context(), ctx.GetString("userID"))
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list tokens", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]tokenResponse, len(tokens))
	for i, t := range tokens {
		items[i] = toTokenResponse(t)
	}
	ctx.JSON(http.StatusOK, gin.H{"tokens": items})
}

func (h *TokenHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.uc.DeleteToken(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTokenNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "delete token", "token_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.Status(http.StatusNoContent)
}
