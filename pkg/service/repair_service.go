package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/tools"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// RepairRequest carries everything the repair model needs.
type RepairRequest struct {
	InvalidXML   string
	CurrentXML   string // last known good document
	ErrorContext string
	ModelRuntime string
}

// Repairer asks for a repair of an invalid diagram.
type Repairer interface {
	RequestRepair(ctx context.Context, req RepairRequest) (*models.RepairResult, error)
}

// RepairService is the repair client. It makes exactly one generation call
// per request and trusts the model's strategy choice, but a display result
// must be a usable cell list.
type RepairService struct {
	gen    Generator
	logger *slog.Logger
}

func NewRepairService(gen Generator) *RepairService {
	return &RepairService{gen: gen, logger: utils.GetLogger()}
}

func (s *RepairService) RequestRepair(ctx context.Context, req RepairRequest) (*models.RepairResult, error) {
	temperature := float32(0)
	msg, err := s.gen.Generate(ctx, GenerateRequest{
		ModelID:      req.ModelRuntime,
		SystemPrompt: RepairSystemPrompt,
		Messages:     []*schema.Message{schema.UserMessage(BuildRepairPrompt(req))},
		Tools:        []*schema.ToolInfo{tools.DisplayDiagramInfo(), tools.EditDiagramInfo()},
		Temperature:  &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("repair request: %w", err)
	}
	if msg == nil {
		return nil, malformedRepair("empty reply")
	}

	result, err := parseRepairReply(msg)
	if err != nil {
		s.logger.Warn("unusable repair reply", "model", req.ModelRuntime, "error", err,
			"content", utils.Truncate(msg.Content, 200))
		return nil, err
	}
	if err := checkRepairResult(result); err != nil {
		return nil, err
	}
	s.logger.Info("repair proposed", "strategy", result.Strategy, "edits", len(result.Edits))
	return result, nil
}

func parseRepairReply(msg *schema.Message) (*models.RepairResult, error) {
	for _, call := range msg.ToolCalls {
		switch tools.ToolID(call.Function.Name) {
		case tools.DisplayDiagramToolID:
			var in tools.DisplayDiagramInput
			if err := tools.DecodeArgs(call.Function.Arguments, &in); err != nil {
				return nil, malformedRepair("display_diagram arguments: %v", err)
			}
			return &models.RepairResult{Strategy: models.RepairStrategyDisplay, XML: in.XML, Notes: strings.TrimSpace(msg.Content)}, nil
		case tools.EditDiagramToolID:
			var in tools.EditDiagramInput
			if err := tools.DecodeArgs(call.Function.Arguments, &in); err != nil {
				return nil, malformedRepair("edit_diagram arguments: %v", err)
			}
			return &models.RepairResult{Strategy: models.RepairStrategyEdit, Edits: in.Edits, Notes: strings.TrimSpace(msg.Content)}, nil
		}
	}
	if len(msg.ToolCalls) > 0 {
		return nil, malformedRepair("unexpected tool %q", msg.ToolCalls[0].Function.Name)
	}

	obj, err := extractJSONObject(msg.Content)
	if err != nil {
		return nil, malformedRepair("%v", err)
	}
	result := &models.RepairResult{
		Strategy: models.RepairStrategy(strings.ToLower(obj.Get("strategy").String())),
		XML:      obj.Get("xml").String(),
		Notes:    obj.Get("notes").String(),
	}
	obj.Get("edits").ForEach(func(_, e gjson.Result) bool {
		result.Edits = append(result.Edits, models.TextEdit{
			Search:  e.Get("search").String(),
			Replace: e.Get("replace").String(),
		})
		return true
	})
	return result, nil
}

func checkRepairResult(r *models.RepairResult) error {
	switch r.Strategy {
	case models.RepairStrategyDisplay:
		if strings.TrimSpace(r.XML) == "" {
			return malformedRepair("display strategy without xml")
		}
		merged, err := diagram.ReplaceMutableSubtree(diagram.EmptyDocument, r.XML)
		if err != nil {
			return malformedRepair("display xml: %v", err)
		}
		cells, err := diagram.ExtractMutableSubtree(merged)
		if err != nil || strings.TrimSpace(cells) == "" {
			return malformedRepair("display xml has no cells")
		}
		return nil
	case models.RepairStrategyEdit:
		if len(r.Edits) == 0 {
			return malformedRepair("edit strategy without edits")
		}
		for i, e := range r.Edits {
			if e.Search == "" {
				return malformedRepair("edit %d has an empty search", i)
			}
		}
		return nil
	default:
		return malformedRepair("unknown strategy %q", r.Strategy)
	}
}
