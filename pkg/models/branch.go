package models

import "github.com/flowpilot/flowpilot/pkg/db"

// ========== Type aliases for database types ==========

type Branch = db.Branch
type BranchMeta = db.BranchMeta
type Message = db.Message
type ToolCall = db.ToolCall
type Attachment = db.Attachment

const (
	BranchTypeRoot       = db.BranchTypeRoot
	BranchTypeManual     = db.BranchTypeManual
	BranchTypeHistory    = db.BranchTypeHistory
	BranchTypeComparison = db.BranchTypeComparison
)

const (
	RoleUser      = db.RoleUser
	RoleAssistant = db.RoleAssistant
	RoleSystem    = db.RoleSystem
	RoleTool      = db.RoleTool
)

// RootBranchLabel is the label of the branch every session starts on.
const RootBranchLabel = "Main"

// CreateBranchOptions parameterizes BranchService.CreateBranch. Activate and
// InheritMessages default to true when nil. SeedMessages, when non-nil, wins
// over inheritance.
type CreateBranchOptions struct {
	ParentID        string
	Label           string
	DiagramXML      *string
	Meta            BranchMeta
	Activate        *bool
	InheritMessages *bool
	SeedMessages    []Message
}

// BranchTree is the derived view of the branch set.
type BranchTree struct {
	ActiveBranchID string    `json:"active_branch_id"`
	Branches       []*Branch `json:"branches"`
	Trail          []*Branch `json:"trail"`
}

// ForkBranchRequest creates a manual branch from the active one.
type ForkBranchRequest struct {
	Label string `json:"label"`
}

// RevertRequest truncates the transcript to the first MessageIndex messages
// on a new history branch.
type RevertRequest struct {
	MessageIndex int `json:"message_index"`
}
