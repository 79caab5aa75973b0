package models

import (
	"fmt"

	"github.com/flowpilot/flowpilot/pkg/db"
	"github.com/flowpilot/flowpilot/pkg/diagram"
)

type DiagramVersion = db.DiagramVersion
type TextEdit = diagram.TextEdit

// Origin says which path produced a diagram candidate.
type Origin string

const (
	OriginDisplay Origin = "display"
	OriginEdit    Origin = "edit"
	OriginRepair  Origin = "repair"
)

// RepairStatus is the tag of AutoRepairState.
type RepairStatus string

const (
	RepairIdle      RepairStatus = "idle"
	RepairRepairing RepairStatus = "repairing"
	RepairFailed    RepairStatus = "failed"
)

// AutoRepairState is {idle} | {repairing, message, notes} | {failed, message, notes}.
// Build values with the constructors; the zero value is not a valid state.
type AutoRepairState struct {
	Status  RepairStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Notes   []string     `json:"notes,omitempty"`
}

func IdleRepairState() AutoRepairState {
	return AutoRepairState{Status: RepairIdle}
}

// IdleRepairStateWithNote is the idle state reached after a successful repair.
func IdleRepairStateWithNote(note string) AutoRepairState {
	return AutoRepairState{Status: RepairIdle, Notes: []string{note}}
}

func RepairingState(message string, notes ...string) AutoRepairState {
	return AutoRepairState{Status: RepairRepairing, Message: message, Notes: notes}
}

func FailedRepairState(message string, notes ...string) AutoRepairState {
	return AutoRepairState{Status: RepairFailed, Message: message, Notes: notes}
}

// CanTransition reports whether moving from s to next is allowed.
// idle->repairing, repairing->idle, repairing->failed, failed->repairing.
// Staying idle and failed->idle through a committed apply are also allowed,
// as is idle->failed when a runtime error has nothing to repair.
func (s AutoRepairState) CanTransition(next RepairStatus) bool {
	switch s.Status {
	case RepairIdle:
		return next == RepairIdle || next == RepairRepairing || next == RepairFailed
	case RepairRepairing:
		return next == RepairIdle || next == RepairFailed
	case RepairFailed:
		return next == RepairRepairing || next == RepairIdle || next == RepairFailed
	default:
		panic(fmt.Sprintf("unknown repair status %q", s.Status))
	}
}

// PendingDiagram is the latest candidate submitted to the orchestrator, kept
// so a later runtime error from the canvas can be attributed to it.
type PendingDiagram struct {
	XML          string `json:"xml"`
	Origin       Origin `json:"origin"`
	ModelRuntime string `json:"model_runtime,omitempty"`
}

// UpdateMeta accompanies a candidate. AllowRepairFallback defaults to true
// when nil.
type UpdateMeta struct {
	Origin              Origin
	ModelRuntime        string
	AllowRepairFallback *bool
}

// RepairAllowed resolves the AllowRepairFallback default.
func (m UpdateMeta) RepairAllowed() bool {
	return m.AllowRepairFallback == nil || *m.AllowRepairFallback
}

// ApplyOutcome reports what an apply did. Committed is false when the
// canvas kept the previous document.
type ApplyOutcome struct {
	Committed bool                      `json:"committed"`
	XML       string                    `json:"xml"` // the committed document, or the unchanged one
	Repaired  bool                      `json:"repaired"`
	Repair    AutoRepairState           `json:"repair"`
	Errors    []diagram.ValidationError `json:"errors,omitempty"` // defects of the rejected candidate
}

// RepairStrategy is the repair collaborator's declared choice.
type RepairStrategy string

const (
	RepairStrategyDisplay RepairStrategy = "display"
	RepairStrategyEdit    RepairStrategy = "edit"
)

// RepairResult is either {display, xml} or {edit, edits}.
type RepairResult struct {
	Strategy RepairStrategy `json:"strategy"`
	XML      string         `json:"xml,omitempty"`
	Edits    []TextEdit     `json:"edits,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

// RuntimeError is reported by the canvas when it rejects a loaded document.
type RuntimeError struct {
	Message string `json:"message" binding:"required"`
}

// RenderAck is reported by the canvas after it rendered a loaded document.
type RenderAck struct {
	XML string `json:"xml" binding:"required"`
}

// Export formats understood by the canvas.
const (
	ExportFormatXMLSVG = "xmlsvg"
	ExportFormatPNG    = "png"
)

// ExportResult is posted back by the canvas for a correlated export request.
type ExportResult struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DiagramState is the orchestrator's read model.
type DiagramState struct {
	LatestXML          string           `json:"latest_xml"`
	Pending            *PendingDiagram  `json:"pending,omitempty"`
	Repair             AutoRepairState  `json:"repair"`
	Versions           []DiagramVersion `json:"versions"`
	ActiveVersionIndex int              `json:"active_version_index"`
}
