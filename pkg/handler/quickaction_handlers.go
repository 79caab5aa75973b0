package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
)

// QuickActionHandler provides HTTP handlers for quick action operations
type QuickActionHandler struct {
	Svc    *service.QuickActionService
	Logger *slog.Logger
}

func NewQuickActionHandler(svc *service.QuickActionService, logger *slog.Logger) *QuickActionHandler {
	return &QuickActionHandler{Svc: svc, Logger: logger}
}

func (h *QuickActionHandler) RegisterRoutes(r *gin.RouterGroup) {
	actions := r.Group("/quick-actions")
	{
		actions.GET("", h.List)
		actions.GET("/:id", h.Get)
		actions.POST("", h.Create)
		actions.PUT("/:id", h.Update)
		actions.DELETE("/:id", h.Delete)
		actions.PUT("/reorder", h.Reorder)
	}
}

func listResponse(actions []models.QuickAction) models.QuickActionListResponse {
	return models.QuickActionListResponse{Actions: actions, Total: len(actions)}
}

// List handles listing all quick actions
func (h *QuickActionHandler) List(c *gin.Context) {
	ok(c, listResponse(h.Svc.List()))
}

// Get handles retrieving a single quick action
func (h *QuickActionHandler) Get(c *gin.Context) {
	a, err := h.Svc.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, a)
}

// Create handles adding a new quick action
func (h *QuickActionHandler) Create(c *gin.Context) {
	var req models.CreateQuickActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.Svc.Create(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: http.StatusCreated, Message: "Created", Data: a})
}

// Update handles modifying an existing quick action
func (h *QuickActionHandler) Update(c *gin.Context) {
	var req models.UpdateQuickActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.Svc.Update(c.Param("id"), &req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrQuickActionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.Response{Code: status, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: http.StatusOK, Message: "Updated", Data: a})
}

// Delete handles removing a quick action
func (h *QuickActionHandler) Delete(c *gin.Context) {
	if err := h.Svc.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: http.StatusOK, Message: "Deleted"})
}

// Reorder handles changing the order of quick actions
func (h *QuickActionHandler) Reorder(c *gin.Context) {
	var req models.ReorderQuickActionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actions, err := h.Svc.Reorder(req.IDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: http.StatusOK, Message: "Reordered", Data: listResponse(actions)})
}
