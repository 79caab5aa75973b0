package models

import (
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed templates.json
var templatesFS embed.FS

const templatesFileName = ".flowpilot/templates.json"

// DiagramTemplate is a ready-made diagram that can be applied to the canvas.
// XML holds the cells only; it is merged into the session document.
type DiagramTemplate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	XML         string `json:"xml"`
}

// TemplateCatalog holds all templates.
type TemplateCatalog struct {
	Templates []DiagramTemplate `json:"templates"`
}

// Find returns the template with the given id.
func (c *TemplateCatalog) Find(id string) (*DiagramTemplate, bool) {
	for i := range c.Templates {
		if c.Templates[i].ID == id {
			return &c.Templates[i], true
		}
	}
	return nil, false
}

// DefaultTemplatesFilePath returns ~/.flowpilot/templates.json.
func DefaultTemplatesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return templatesFileName
	}
	return filepath.Join(home, templatesFileName)
}

func loadEmbeddedTemplates() (*TemplateCatalog, error) {
	data, err := templatesFS.ReadFile("templates.json")
	if err != nil {
		return nil, err
	}
	var catalog TemplateCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// LoadTemplates reads the user's template file at path. When it is missing
// or unreadable the embedded catalog is returned and written to path.
func LoadTemplates(path string) (*TemplateCatalog, error) {
	if data, err := os.ReadFile(path); err == nil {
		var catalog TemplateCatalog
		if err := json.Unmarshal(data, &catalog); err == nil {
			return &catalog, nil
		}
	}

	catalog, err := loadEmbeddedTemplates()
	if err != nil {
		return nil, err
	}
	// Best effort; the file is recreated on the next load.
	_ = SaveTemplates(path, catalog)
	return catalog, nil
}

// SaveTemplates writes catalog to path.
func SaveTemplates(path string, catalog *TemplateCatalog) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
