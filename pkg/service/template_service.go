package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// TemplateService serves the diagram template catalog.
type TemplateService struct {
	logger *slog.Logger
	path   string

	mu      sync.RWMutex
	catalog *models.TemplateCatalog
}

// NewTemplateService loads the catalog at path, falling back to the
// embedded one. Templates whose cells do not merge into an empty document
// are dropped with a warning.
func NewTemplateService(path string) (*TemplateService, error) {
	if path == "" {
		path = models.DefaultTemplatesFilePath()
	}
	catalog, err := models.LoadTemplates(path)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	s := &TemplateService{logger: utils.GetLogger(), path: path}
	s.catalog = &models.TemplateCatalog{Templates: lo.Filter(catalog.Templates, func(t models.DiagramTemplate, _ int) bool {
		merged, err := diagram.ReplaceMutableSubtree(diagram.EmptyDocument, t.XML)
		if err == nil && diagram.Validate(merged).IsValid {
			return true
		}
		s.logger.Warn("skipping invalid template", "template", t.ID, "error", err)
		return false
	})}
	return s, nil
}

// List returns the templates, optionally restricted to one category.
func (s *TemplateService) List(category string) []models.DiagramTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if category == "" {
		return append([]models.DiagramTemplate(nil), s.catalog.Templates...)
	}
	return lo.Filter(s.catalog.Templates, func(t models.DiagramTemplate, _ int) bool {
		return t.Category == category
	})
}

// Categories returns the distinct categories in catalog order.
func (s *TemplateService) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Uniq(lo.Map(s.catalog.Templates, func(t models.DiagramTemplate, _ int) string {
		return t.Category
	}))
}

func (s *TemplateService) Get(id string) (*models.DiagramTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.catalog.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	out := *t
	return &out, nil
}
