package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
)

// CustomModelHandler serves the custom model preference list
type CustomModelHandler struct {
	store  service.CustomModelStore
	logger *slog.Logger
}

func NewCustomModelHandler(store service.CustomModelStore, logger *slog.Logger) *CustomModelHandler {
	return &CustomModelHandler{store: store, logger: logger}
}

func (h *CustomModelHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/custom-models", h.List)
	r.POST("/custom-models", h.Touch)
	// model ids such as "openrouter/meta/llama" contain slashes
	r.DELETE("/custom-models/*id", h.Remove)
}

func (h *CustomModelHandler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list custom models", "error", err)
		fail(c, err)
		return
	}
	ok(c, list)
}

// Touch records a use of a custom model and returns the updated list
func (h *CustomModelHandler) Touch(c *gin.Context) {
	var req models.TouchCustomModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	list, err := h.store.Touch(c.Request.Context(), req.ID, req.Label)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (h *CustomModelHandler) Remove(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	list, err := h.store.Remove(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}
