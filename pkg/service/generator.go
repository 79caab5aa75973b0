package service

import (
	"context"
	"fmt"
	"log/slog"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// GenerateRequest is one call to a chat model.
type GenerateRequest struct {
	ModelID      string
	SystemPrompt string
	Messages     []*schema.Message
	Tools        []*schema.ToolInfo
	Temperature  *float32
}

// Generator is the generation backend: prompt and context in, text or tool
// calls out.
type Generator interface {
	Resolve(modelID string) (*models.ResolvedModel, error)
	Generate(ctx context.Context, req GenerateRequest) (*schema.Message, error)
}

// ChatModelFactory builds a tool calling chat model for a model config.
type ChatModelFactory interface {
	CreateChatModel(ctx context.Context, config *models.ModelConfig) (einoModel.ToolCallingChatModel, error)
}

// ModelResolver maps requested ids onto configured models.
type ModelResolver interface {
	Resolve(modelID string) (*models.ResolvedModel, error)
}

// EinoGenerator runs generations on eino chat models.
type EinoGenerator struct {
	resolver ModelResolver
	factory  ChatModelFactory
	logger   *slog.Logger
}

func NewEinoGenerator(resolver ModelResolver, factory ChatModelFactory) *EinoGenerator {
	return &EinoGenerator{resolver: resolver, factory: factory, logger: utils.GetLogger()}
}

// NewEinoGeneratorFromModels wires a generator on a ModelService.
func NewEinoGeneratorFromModels(ms *ModelService) *EinoGenerator {
	return NewEinoGenerator(ms, ms)
}

func (g *EinoGenerator) Resolve(modelID string) (*models.ResolvedModel, error) {
	return g.resolver.Resolve(modelID)
}

func (g *EinoGenerator) Generate(ctx context.Context, req GenerateRequest) (*schema.Message, error) {
	resolved, err := g.resolver.Resolve(req.ModelID)
	if err != nil {
		return nil, err
	}
	chatModel, err := g.factory.CreateChatModel(ctx, resolved.Config)
	if err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		chatModel, err = chatModel.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	input := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		input = append(input, schema.SystemMessage(req.SystemPrompt))
	}
	input = append(input, req.Messages...)

	var opts []einoModel.Option
	if req.Temperature != nil {
		opts = append(opts, einoModel.WithTemperature(*req.Temperature))
	}

	g.logger.Debug("generate", "model", resolved.ID, "provider", resolved.Provider,
		"messages", len(input), "tools", len(req.Tools))
	out, err := chatModel.Generate(ctx, input, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate with %s: %w", resolved.Label, err)
	}
	return out, nil
}

// UserMessage builds a user turn; attachments become image parts.
func UserMessage(text string, attachments []models.Attachment) *schema.Message {
	parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: text}}
	for _, a := range attachments {
		if a.URL == "" || a.MediaType == "" {
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:      a.URL,
				MIMEType: a.MediaType,
				Detail:   "auto",
			},
		})
	}
	if len(parts) == 1 {
		return schema.UserMessage(text)
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}
