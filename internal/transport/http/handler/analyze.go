package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cauldronio/poolsched/internal/api"
	"github.com/cauldronio/poolsched/internal/domain"
)

type AnalyzeHandler struct {
	analyzer *api.Analyzer
	logger   *slog.Logger
}

func NewAnalyzeHandler(analyzer *api.Analyzer, logger *slog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{analyzer: analyzer, logger: logger.With("component", "analyze_handler")}
}

// Git URLs are not all url-shaped (ssh and scp syntax), so the binding only
// bounds the length.
type analyzeGitRequest struct {
	URL string `json:"url" binding:"required,max=2048"`
}

type analyzeRepoRequest struct {
	Owner string `json:"owner" binding:"required,max=256"`
	Repo  string `json:"repo"  binding:"required,max=256"`
}

type analyzeMeetupRequest struct {
	Group string `json:"group" binding:"required,max=256"`
}

type intentionResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Running   bool      `json:"running"`
	CreatedAt time.Time `json:"created_at"`
}

type pipelineResponse struct {
	RepoID string            `json:"repo_id"`
	Raw    intentionResponse `json:"raw"`
	Enrich intentionResponse `json:"enrich"`
}

func toIntentionResponse(in *domain.Intention) intentionResponse {
	return intentionResponse{
		ID:        in.ID,
		Kind:      string(in.Kind),
		Running:   in.JobID != nil,
		CreatedAt: in.CreatedAt,
	}
}

func toPipelineResponse(p *api.Pipeline) pipelineResponse {
	return pipelineResponse{
		RepoID: p.RepoID,
		Raw:    toIntentionResponse(p.Raw),
		Enrich: toIntentionResponse(p.Enrich),
	}
}

// POST /analyze/git
func (h *AnalyzeHandler) Git(ctx *gin.Context) {
	var req analyzeGitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.analyzer.AnalyzeGitRepo(ctx.Request.Context(), ctx.GetString("userID"), req.URL)
	h.respond(ctx, p, err, "analyze git repo")
}

// POST /analyze/github
func (h *AnalyzeHandler) GitHub(ctx *gin.Context) {
	var req analyzeRepoRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.analyzer.AnalyzeGitHubRepo(ctx.Request.Context(), ctx.GetString("userID"), req.Owner, req.Repo)
	h.respond(ctx, p, err, "analyze github repo")
}

// POST /analyze/gitlab
func (h *AnalyzeHandler) GitLab(ctx *gin.Context) {
	var req analyzeRepoRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.analyzer.AnalyzeGitLabRepo(ctx.Request.Context(), ctx.GetString("userID"), req.Owner, req.Repo)
	h.respond(ctx, p, err, "analyze gitlab repo")
}

// POST /analyze/meetup
func (h *AnalyzeHandler) Meetup(ctx *gin.Context) {
	var req analyzeMeetupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.analyzer.AnalyzeMeetupGroup(ctx.Request.Context(), ctx.GetString("userID"), req.Group)
	h.respond(ctx, p, err, "analyze meetup group")
}

func (h *AnalyzeHandler) respond(ctx *gin.Context, p *api.Pipeline, err error, op string) {
	if err != nil {
		if errors.Is(err, domain.ErrNoToken) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errNoToken})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, toPipelineResponse(p))
}
