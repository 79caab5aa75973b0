package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
)

// CompareHandler serves POST /api/model-compare. Unlike the other
// endpoints it answers with the bare CompareResponse / CompareErrorResponse
// bodies.
type CompareHandler struct {
	comparer service.Comparer
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewCompareHandler allows perMinute requests per minute with the given
// burst. perMinute <= 0 disables the limit.
func NewCompareHandler(comparer service.Comparer, perMinute, burst int, logger *slog.Logger) *CompareHandler {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &CompareHandler{comparer: comparer, limiter: rate.NewLimiter(limit, burst), logger: logger}
}

func (h *CompareHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/model-compare", h.Compare)
}

// Compare runs one prompt against every requested model
// @Summary Compare models
// @Tags compare
// @Accept json
// @Produce json
// @Param request body models.CompareRequest true "Models and prompt"
// @Success 200 {object} models.CompareResponse
// @Router /model-compare [post]
func (h *CompareHandler) Compare(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, models.CompareErrorResponse{Error: "too many comparison requests, try again shortly"})
		return
	}

	var req models.CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.CompareErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	resp, err := h.comparer.Compare(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrComparePromptEmpty) || errors.Is(err, service.ErrCompareNoModels) {
			c.JSON(http.StatusBadRequest, models.CompareErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("model comparison failed", "models", len(req.Models), "error", err)
		c.JSON(http.StatusInternalServerError, models.CompareErrorResponse{Error: "comparison failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
