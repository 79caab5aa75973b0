package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// ErrNoModels is returned when no chat model is configured at all.
var ErrNoModels = errors.New("no chat model configured")

type ModelService struct {
	logger       *slog.Logger
	path         string
	defaultModel string

	mu sync.Mutex // serializes read-modify-write of the models file
}

// NewModelService creates a model service backed by the models file at path.
// defaultModel names the fallback model (id, name or model field); when empty
// the entry flagged default, or else the first entry, is used.
func NewModelService(path, defaultModel string) *ModelService {
	if path == "" {
		path = models.DefaultModelsFilePath()
	}
	return &ModelService{
		logger:       utils.GetLogger(),
		path:         path,
		defaultModel: defaultModel,
	}
}

// Models returns the configured models.
func (m *ModelService) Models() ([]*models.ModelConfig, error) {
	return models.LoadModels(m.path)
}

// Resolve maps a requested model id onto a configured model. Matching is
// case-insensitive on id, name and model fields; an unknown or empty id
// falls back to the default model.
func (m *ModelService) Resolve(modelID string) (*models.ResolvedModel, error) {
	list, err := models.LoadModels(m.path)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrNoModels
	}

	cfg := findModel(list, modelID)
	if cfg == nil {
		if modelID != "" {
			m.logger.Debug("model not configured, using default", "model", modelID)
		}
		cfg = m.defaultConfig(list)
	}
	return &models.ResolvedModel{
		ID:          cfg.ID,
		Label:       cfg.Label(),
		Description: cfg.Description,
		Provider:    cfg.Provider,
		Config:      cfg,
	}, nil
}

func findModel(list []*models.ModelConfig, key string) *models.ModelConfig {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	for _, mm := range list {
		if strings.EqualFold(mm.ID, key) {
			return mm
		}
	}
	for _, mm := range list {
		if strings.EqualFold(mm.Name, key) || strings.EqualFold(mm.Model, key) {
			return mm
		}
	}
	return nil
}

func (m *ModelService) defaultConfig(list []*models.ModelConfig) *models.ModelConfig {
	if cfg := findModel(list, m.defaultModel); cfg != nil {
		return cfg
	}
	for _, mm := range list {
		if mm.Default {
			return mm
		}
	}
	return list[0]
}

// GetModelList fetch model list
func (m *ModelService) GetModelList(c *gin.Context) {
	modelsList, err := models.LoadModels(m.path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to read model list"})
		return
	}
	out := make([]models.ModelConfig, 0, len(modelsList))
	for _, mm := range modelsList {
		masked := *mm
		masked.ApiKey = utils.MaskSensitiveString(mm.ApiKey)
		out = append(out, masked)
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": out})
}

func validateModelConfig(req *models.ModelConfig) string {
	req.Normalize()
	if req.Name == "" || req.Provider == "" {
		return "Name and provider required"
	}
	if _, ok := models.SupportedModelProviders[req.Provider]; !ok {
		return "Unsupported model provider"
	}
	return ""
}

// AddModel add a new model
func (m *ModelService) AddModel(c *gin.Context) {
	var req models.ModelConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Invalid parameters"})
		return
	}
	if msg := validateModelConfig(&req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": msg})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	currentModels, err := models.LoadModels(m.path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to read model list"})
		return
	}
	for _, mm := range currentModels {
		if mm.Name == req.Name {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Model name already exists"})
			return
		}
	}
	req.ID = uuid.New().String()
	currentModels = append(currentModels, &req)
	if err := models.SaveModels(m.path, currentModels); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to save model"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "Added successfully", "data": gin.H{"id": req.ID}})
}

// EditModel update an existing model
func (m *ModelService) EditModel(c *gin.Context) {
	id := c.Param("id")
	var req models.ModelConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Invalid parameters"})
		return
	}
	if msg := validateModelConfig(&req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": msg})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	currentModels, err := models.LoadModels(m.path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to read model list"})
		return
	}
	found := false
	for i, mm := range currentModels {
		if mm.ID != id {
			continue
		}
		for _, other := range currentModels {
			if other.Name == req.Name && other.ID != id {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Model name already exists"})
				return
			}
		}
		// an empty key in the request keeps the stored one
		if req.ApiKey == "" {
			req.ApiKey = mm.ApiKey
		}
		currentModels[i] = &req
		currentModels[i].ID = id
		found = true
		break
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "Model not found"})
		return
	}
	if err := models.SaveModels(m.path, currentModels); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to save model"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "Updated successfully"})
}

// DeleteModel delete model
func (m *ModelService) DeleteModel(c *gin.Context) {
	id := c.Param("id")

	m.mu.Lock()
	defer m.mu.Unlock()
	currentModels, err := models.LoadModels(m.path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to read model list"})
		return
	}
	idx := -1
	for i, mm := range currentModels {
		if mm.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "Model not found"})
		return
	}
	currentModels = append(currentModels[:idx], currentModels[idx+1:]...)
	if err := models.SaveModels(m.path, currentModels); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "Failed to save model"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "Deleted successfully"})
}

// TestModelConnection connectivity test for model provider
func (m *ModelService) TestModelConnection(c *gin.Context) {
	var req models.ModelConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Invalid parameters: " + err.Error()})
		return
	}
	req.Normalize()
	if req.Provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Provider required"})
		return
	}
	if _, ok := models.SupportedModelProviders[req.Provider]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "Unknown provider"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	chatModel, err := m.CreateChatModel(ctx, &req)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"code": 200, "success": false, "message": "Model init failed: " + err.Error()})
		return
	}
	if _, err := chatModel.Generate(ctx, []*schema.Message{schema.UserMessage("Hi")}); err != nil {
		c.JSON(http.StatusOK, gin.H{"code": 200, "success": false, "message": "Connection failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "success": true, "message": "Connection successful"})
}

// CreateChatModel creates an eino chat model from config
func (m *ModelService) CreateChatModel(ctx context.Context, config *models.ModelConfig) (einoModel.ToolCallingChatModel, error) {
	if config == nil {
		return nil, fmt.Errorf("model config is nil")
	}
	config.Normalize()

	switch config.Provider {
	case models.ProviderOpenAI, models.ProviderCustom:
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case models.ProviderArk:
		timeout := time.Second * 600
		retries := 3
		region := ""
		if v, ok := config.Extra["region"]; ok {
			region, _ = v.(string)
		}
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    config.BaseUrl,
			Region:     region,
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     config.ApiKey,
			Model:      config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case models.ProviderDeepSeek:
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case models.ProviderAnthropic:
		var baseURL *string
		if config.BaseUrl != "" {
			baseURL = &config.BaseUrl
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   baseURL,
			APIKey:    config.ApiKey,
			Model:     config.Model,
			MaxTokens: config.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case models.ProviderOllama:
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: config.BaseUrl,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case models.ProviderGoogle:
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  config.ApiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case models.ProviderQianfan:
		qianfanConfig := qianfan.GetQianfanSingletonConfig()
		qianfanConfig.BaseURL = config.BaseUrl
		qianfanConfig.BearerToken = config.ApiKey
		chatModel, err := qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
			Model: config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan model: %w", err)
		}
		return chatModel, nil

	case models.ProviderQwen:
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", config.Provider)
	}
}
