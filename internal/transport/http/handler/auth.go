package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cauldronio/poolsched/internal/domain"
)

// signInFlow is the slice of AuthUsecase the handler needs.
// Defined at point of use so tests can inject a fake.
type signInFlow interface {
	StartSignIn(ctx context.Context, addr string) error
	FinishSignIn(ctx context.Context, token string) (string, error)
}

type AuthHandler struct {
	auth   signInFlow
	logger *slog.Logger
}

func NewAuthHandler(auth signInFlow, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger.With("component", "auth_handler"),
	}
}

type startSignInRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Start handles POST /auth/magic-link. The response is the same whether
// the address is known, new, or the mail failed, so the endpoint cannot
// be used to probe which emails have accounts.
func (h *AuthHandler) Start(c *gin.Context) {
	var req startSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.auth.StartSignIn(c.Request.Context(), req.Email); err != nil {
		h.logger.Error("start sign-in", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// Verify handles GET /auth/verify?token=<link token> and trades a valid
// link for the session JWT.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errSignInToken})
		return
	}

	jwtToken, err := h.auth.FinishSignIn(c.Request.Context(), token)
	switch {
	case errors.Is(err, domain.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": errSignInToken})
	case err != nil:
		h.logger.Error("finish sign-in", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	default:
		c.JSON(http.StatusOK, gin.H{"token": jwtToken})
	}
}
