package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/sourcegraph/conc/iter"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// Request errors of the compare endpoint; both map to 400.
var (
	ErrComparePromptEmpty = errors.New("prompt must not be empty")
	ErrCompareNoModels    = errors.New("select at least one model to compare")
)

const compareTemperature = float32(0.1)

// CompareService runs one prompt against several models at once. Results
// are positionally aligned with the requested models and a failing model
// never aborts the others.
type CompareService struct {
	gen    Generator
	logger *slog.Logger
}

func NewCompareService(gen Generator) *CompareService {
	return &CompareService{gen: gen, logger: utils.GetLogger()}
}

// Compare validates req and fans it out. Per-model failures are reported
// as error results, not as an error.
func (s *CompareService) Compare(ctx context.Context, req models.CompareRequest) (*models.CompareResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrComparePromptEmpty
	}
	var targets []models.CompareModelInput
	for _, m := range req.Models {
		if strings.TrimSpace(m.ID) != "" {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return nil, ErrCompareNoModels
	}

	userPrompt := BuildComparePrompt(req.Prompt, req.XML, req.Brief)
	// every model runs at once, whatever GOMAXPROCS is
	mapper := iter.Mapper[models.CompareModelInput, models.CompareResult]{MaxGoroutines: len(targets)}
	results := mapper.Map(targets, func(m *models.CompareModelInput) models.CompareResult {
		return s.compareOne(ctx, *m, userPrompt, req.Attachments)
	})
	return &models.CompareResponse{Results: results}, nil
}

func (s *CompareService) compareOne(ctx context.Context, m models.CompareModelInput, userPrompt string, attachments []models.Attachment) models.CompareResult {
	fail := func(err error) models.CompareResult {
		s.logger.Warn("comparison model failed", "model", m.ID, "error", err)
		label := m.Label
		if label == "" {
			label = m.ID
		}
		return models.CompareResult{ID: m.ID, Label: label, Provider: "unknown", Status: models.ResultStatusError, Error: err.Error()}
	}

	resolved, err := s.gen.Resolve(m.ID)
	if err != nil {
		return fail(err)
	}
	temperature := compareTemperature
	msg, err := s.gen.Generate(ctx, GenerateRequest{
		ModelID:      resolved.ID,
		SystemPrompt: CompareSystemPrompt,
		Messages:     []*schema.Message{UserMessage(userPrompt, attachments)},
		Temperature:  &temperature,
	})
	if err != nil {
		return fail(err)
	}
	if msg == nil {
		return fail(errNoJSON)
	}
	payload, err := parseComparePayload(msg.Content)
	if err != nil {
		return fail(err)
	}

	label := m.Label
	if label == "" {
		label = resolved.Label
	}
	return models.CompareResult{
		ID:       resolved.ID,
		Label:    label,
		Provider: resolved.Provider,
		Status:   models.ResultStatusOK,
		Summary:  payload.Summary,
		XML:      payload.XML,
	}
}
