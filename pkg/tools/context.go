package tools

import (
	"context"

	"github.com/flowpilot/flowpilot/pkg/models"
)

// DiagramApplier is the part of the diagram orchestrator the tools drive.
type DiagramApplier interface {
	ApplyCandidate(ctx context.Context, xml string, meta models.UpdateMeta) (*models.ApplyOutcome, error)
	ApplyEdits(ctx context.Context, edits []models.TextEdit, meta models.UpdateMeta) (*models.ApplyOutcome, error)
}

// ToolContext provides services and context needed by tools
type ToolContext struct {
	Applier DiagramApplier

	// ModelRuntime is the model that issued the tool calls.
	ModelRuntime string

	// OnCommit is called with the committed document after a successful apply.
	OnCommit func(xml string)
}

// NewToolContext creates a new tool context
func NewToolContext(applier DiagramApplier) *ToolContext {
	return &ToolContext{Applier: applier}
}

// WithModel returns a copy of the context attributed to modelID.
func (c *ToolContext) WithModel(modelID string) *ToolContext {
	cc := *c
	cc.ModelRuntime = modelID
	return &cc
}
