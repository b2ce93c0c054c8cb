// Package handlers exposes the reporting API: company search and detail,
// dashboard statistics, change analysis, the conversational endpoint, and a
// protected pipeline trigger.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gartstein/mca-insights/internal/registry/db"
	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"go.uber.org/zap"
)

// Store is the read surface the API needs from the repository.
type Store interface {
	SearchCompanies(ctx context.Context, term, by string) ([]models.CompanyRecord, error)
	GetCompany(ctx context.Context, cin string) (*models.CompanyRecord, error)
	ListChanges(ctx context.Context, cin string) ([]models.ChangeEvent, error)
	ListCompanies(ctx context.Context, f db.ListFilter) ([]models.CompanyRecord, int64, error)
	DashboardStats(ctx context.Context) (db.DashboardStats, error)
	ChangesAnalysis(ctx context.Context, days int) (db.ChangesAnalysis, error)
}

// ChatEngine answers conversational queries.
type ChatEngine interface {
	Answer(ctx context.Context, question string) (string, error)
}

// PipelineRunner triggers a full consolidation + detection run.
type PipelineRunner interface {
	Run(ctx context.Context) (models.ChangeSummary, error)
}

// Handler holds the API dependencies.
type Handler struct {
	store  Store
	chat   ChatEngine
	runner PipelineRunner
	logger *zap.Logger
}

// NewHandler constructs the API handler set.
func NewHandler(store Store, chat ChatEngine, runner PipelineRunner, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		chat:   chat,
		runner: runner,
		logger: logger.Named("api"),
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "registry insights api",
	})
}

func (h *Handler) searchCompany(c *gin.Context) {
	term := c.Query("q")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search term is required"})
		return
	}
	by := c.DefaultQuery("type", "name")

	results, err := h.store.SearchCompanies(c.Request.Context(), term, by)
	if err != nil {
		h.serverError(c, "search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"results":     results,
		"count":       len(results),
		"search_term": term,
		"search_type": by,
	})
}

func (h *Handler) getCompany(c *gin.Context) {
	cin := c.Param("cin")

	company, err := h.store.GetCompany(c.Request.Context(), cin)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		h.serverError(c, "company lookup failed", err)
		return
	}

	changes, err := h.store.ListChanges(c.Request.Context(), cin)
	if err != nil {
		h.serverError(c, "change history lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"company": company,
			"changes": changes,
		},
	})
}

type listQuery struct {
	Page    int    `form:"page,default=1"`
	PerPage int    `form:"per_page,default=50"`
	State   string `form:"state"`
	Status  string `form:"status"`
}

func (h *Handler) listCompanies(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	companies, total, err := h.store.ListCompanies(c.Request.Context(), db.ListFilter{
		State:   q.State,
		Status:  q.Status,
		Page:    q.Page,
		PerPage: q.PerPage,
	})
	if err != nil {
		h.serverError(c, "listing failed", err)
		return
	}

	perPage := q.PerPage
	if perPage < 1 {
		perPage = 50
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    companies,
		"pagination": gin.H{
			"page":     q.Page,
			"per_page": perPage,
			"total":    total,
			"pages":    (total + int64(perPage) - 1) / int64(perPage),
		},
	})
}

func (h *Handler) dashboardStats(c *gin.Context) {
	stats, err := h.store.DashboardStats(c.Request.Context())
	if err != nil {
		h.serverError(c, "dashboard stats failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (h *Handler) changesAnalysis(c *gin.Context) {
	var q struct {
		Days int `form:"days,default=30"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	analysis, err := h.store.ChangesAnalysis(c.Request.Context(), q.Days)
	if err != nil {
		h.serverError(c, "changes analysis failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": analysis, "days": q.Days})
}

func (h *Handler) chatQuery(c *gin.Context) {
	var body struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	answer, err := h.chat.Answer(c.Request.Context(), body.Query)
	if err != nil {
		h.serverError(c, "chat query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"query":     body.Query,
		"response":  answer,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) runPipeline(c *gin.Context) {
	summary, err := h.runner.Run(c.Request.Context())
	if err != nil {
		h.serverError(c, "pipeline run failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

func (h *Handler) serverError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
