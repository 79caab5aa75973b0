package models

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const modelFileName = ".flowpilot/models.json"

// Provider names understood by the chat model factory.
const (
	ProviderOpenAI    = "openai"
	ProviderCustom    = "custom"
	ProviderArk       = "ark"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
	ProviderQianfan   = "qianfan"
	ProviderQwen      = "qwen"
)

// SupportedModelProviders supported model providers
var SupportedModelProviders = map[string]struct{}{
	ProviderOpenAI:    {},
	ProviderCustom:    {},
	ProviderArk:       {},
	ProviderDeepSeek:  {},
	ProviderAnthropic: {},
	ProviderOllama:    {},
	ProviderGoogle:    {},
	ProviderQianfan:   {},
	ProviderQwen:      {},
}

// ModelConfig describes one configured chat model. Extra stores vendor
// specific parameters (for example "region" for ark).
type ModelConfig struct {
	ID          string                 `json:"id"`
	Provider    string                 `json:"provider"`
	Model       string                 `json:"model"`       // provider model identifier
	Name        string                 `json:"name"`        // display name
	Description string                 `json:"description"` // shown in the model picker
	BaseUrl     string                 `json:"base_url"`
	ApiKey      string                 `json:"api_key"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Default     bool                   `json:"default,omitempty"`
	Extra       map[string]interface{} `json:"extra"`
}

func (m *ModelConfig) Normalize() {
	if m.Extra == nil {
		m.Extra = map[string]interface{}{}
	}
	if m.MaxTokens <= 0 {
		m.MaxTokens = 8192
	}
}

// Label returns the display name, falling back to the model id.
func (m *ModelConfig) Label() string {
	if m.Name != "" {
		return m.Name
	}
	if m.Model != "" {
		return m.Model
	}
	return m.ID
}

// ResolvedModel is a requested model id mapped onto a configured model.
type ResolvedModel struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
	Provider    string       `json:"provider"`
	Config      *ModelConfig `json:"-"`
}

// DefaultModelsFilePath returns ~/.flowpilot/models.json.
func DefaultModelsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return modelFileName // fallback
	}
	return filepath.Join(home, modelFileName)
}

// LoadModels reads the model list at path. A missing file is an empty list.
func LoadModels(path string) ([]*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []*ModelConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []*ModelConfig
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := list[:0]
	for _, m := range list {
		if m != nil {
			m.Normalize()
			out = append(out, m)
		}
	}
	return out, nil
}

// SaveModels writes the model list to path.
func SaveModels(path string, list []*ModelConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	for _, m := range list {
		if m != nil {
			m.Normalize()
		}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
