package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/models"
)

const (
	DisplayDiagramToolID ToolID = "display_diagram"
	EditDiagramToolID    ToolID = "edit_diagram"
)

func registerDiagramTools(r *Registry) {
	r.Register(ToolDefinition{
		ID:          DisplayDiagramToolID,
		Name:        "Display Diagram",
		Description: "Replace the diagram cells with a new set of mxCell elements.",
		Category:    CategoryDiagram,
		Dangerous:   true,
	}, NewDisplayDiagramTool)
	r.Register(ToolDefinition{
		ID:          EditDiagramToolID,
		Name:        "Edit Diagram",
		Description: "Apply exact search/replace edits to the current diagram XML.",
		Category:    CategoryDiagram,
		Dangerous:   true,
	}, NewEditDiagramTool)
}

// DisplayDiagramInput represents the input for display_diagram
type DisplayDiagramInput struct {
	XML string `json:"xml"`
}

// EditDiagramInput represents the input for edit_diagram
type EditDiagramInput struct {
	Edits []models.TextEdit `json:"edits"`
}

// DisplayDiagramInfo describes display_diagram for model binding.
func DisplayDiagramInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(DisplayDiagramToolID),
		Desc: `Display a new diagram on the canvas.

Pass only the mxCell elements of the diagram (the children of <root>), without
the reserved cells id="0" and id="1". Every vertex and edge must use parent="1"
or the id of a container cell. Every edge source/target must name an existing cell.
Use this tool for new diagrams or full re-layouts.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"xml": {Type: schema.String, Required: true, Desc: "mxCell elements to place under <root>"},
		}),
	}
}

// EditDiagramInfo describes edit_diagram for model binding.
func EditDiagramInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(EditDiagramToolID),
		Desc: `Edit the current diagram with exact search/replace pairs.

Each search string must appear exactly once in the current diagram XML; copy it
verbatim, including attribute order and quoting. Edits are applied in order and
either all apply or none do. Prefer this tool for small changes.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"edits": {
				Type:     schema.Array,
				Required: true,
				Desc:     "Ordered list of edits",
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"search":  {Type: schema.String, Required: true, Desc: "Exact text to find, unique in the document"},
						"replace": {Type: schema.String, Required: true, Desc: "Replacement text"},
					},
				},
			},
		}),
	}
}

// NewDisplayDiagramTool creates the display_diagram tool
func NewDisplayDiagramTool(tc *ToolContext) tool.InvokableTool {
	return utils.NewTool(DisplayDiagramInfo(), func(ctx context.Context, input *DisplayDiagramInput) (string, error) {
		if strings.TrimSpace(input.XML) == "" {
			return "Error: xml is required", nil
		}
		out, err := tc.Applier.ApplyCandidate(ctx, input.XML, models.UpdateMeta{
			Origin:       models.OriginDisplay,
			ModelRuntime: tc.ModelRuntime,
		})
		if err != nil {
			return fmt.Sprintf("Error: failed to display diagram: %v", err), nil
		}
		return describeOutcome(tc, out), nil
	})
}

// NewEditDiagramTool creates the edit_diagram tool
func NewEditDiagramTool(tc *ToolContext) tool.InvokableTool {
	return utils.NewTool(EditDiagramInfo(), func(ctx context.Context, input *EditDiagramInput) (string, error) {
		if len(input.Edits) == 0 {
			return "Error: edits must not be empty", nil
		}
		out, err := tc.Applier.ApplyEdits(ctx, input.Edits, models.UpdateMeta{
			Origin:       models.OriginEdit,
			ModelRuntime: tc.ModelRuntime,
		})
		if err != nil {
			return fmt.Sprintf("Error: failed to edit diagram: %v", err), nil
		}
		return describeOutcome(tc, out), nil
	})
}

func describeOutcome(tc *ToolContext, out *models.ApplyOutcome) string {
	if !out.Committed {
		msg := "Diagram rejected, the canvas still shows the previous version."
		if len(out.Errors) > 0 {
			msg += "\n" + diagram.SummarizeErrors(out.Errors)
		}
		if out.Repair.Message != "" {
			msg += "\n" + out.Repair.Message
		}
		return "Error: " + msg
	}
	if tc.OnCommit != nil {
		tc.OnCommit(out.XML)
	}
	if out.Repaired {
		return "Diagram applied after automatic repair."
	}
	return "Diagram applied."
}
