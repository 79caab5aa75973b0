package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/service"
)

// TemplateHandler serves the diagram template catalog
type TemplateHandler struct {
	svc *service.TemplateService
}

func NewTemplateHandler(svc *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

func (h *TemplateHandler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/templates")
	{
		templates.GET("", h.List)
		templates.GET("/categories", h.Categories)
		templates.GET("/:id", h.Get)
	}
}

// List returns the templates, optionally filtered by ?category=
func (h *TemplateHandler) List(c *gin.Context) {
	ok(c, h.svc.List(c.Query("category")))
}

func (h *TemplateHandler) Categories(c *gin.Context) {
	ok(c, h.svc.Categories())
}

func (h *TemplateHandler) Get(c *gin.Context) {
	t, err := h.svc.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, t)
}
