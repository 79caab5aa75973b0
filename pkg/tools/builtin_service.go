package tools

import (
	"fmt"
)

// BuiltinToolInfo represents detailed information about a built-in tool
type BuiltinToolInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Dangerous   bool   `json:"dangerous"`
}

// BuiltinToolsService exposes the registry for the settings API
type BuiltinToolsService struct {
	registry *Registry
}

// NewBuiltinToolsService creates a new built-in tools service
func NewBuiltinToolsService(registry *Registry) *BuiltinToolsService {
	return &BuiltinToolsService{registry: registry}
}

// ListAll returns all built-in tools info
func (s *BuiltinToolsService) ListAll() []BuiltinToolInfo {
	defs := s.registry.ListToolDefinitions()
	result := make([]BuiltinToolInfo, len(defs))
	for i, def := range defs {
		result[i] = toInfo(def)
	}
	return result
}

// GetToolInfo returns info for a specific tool
func (s *BuiltinToolsService) GetToolInfo(id string) (*BuiltinToolInfo, error) {
	for _, def := range s.registry.ListToolDefinitions() {
		if def.ID == ToolID(id) {
			info := toInfo(def)
			return &info, nil
		}
	}
	return nil, fmt.Errorf("built-in tool not found: %s", id)
}

func toInfo(def ToolDefinition) BuiltinToolInfo {
	return BuiltinToolInfo{
		ID:          string(def.ID),
		Name:        def.Name,
		Description: def.Description,
		Category:    string(def.Category),
		Dangerous:   def.Dangerous,
	}
}
