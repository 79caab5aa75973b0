package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/tools"
)

// ToolHandler lists the tools bound to chat models
type ToolHandler struct {
	svc *tools.BuiltinToolsService
}

func NewToolHandler(svc *tools.BuiltinToolsService) *ToolHandler {
	return &ToolHandler{svc: svc}
}

func (h *ToolHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tools", h.List)
	r.GET("/tools/:id", h.Get)
}

func (h *ToolHandler) List(c *gin.Context) {
	ok(c, h.svc.ListAll())
}

func (h *ToolHandler) Get(c *gin.Context) {
	info, err := h.svc.GetToolInfo(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.Response{Code: http.StatusNotFound, Message: err.Error()})
		return
	}
	ok(c, info)
}
