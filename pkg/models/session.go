package models

import "github.com/flowpilot/flowpilot/pkg/db"

type SessionRecord = db.Session

// SessionState is the serializable view of one session.
type SessionState struct {
	ID                     string             `json:"id"`
	Title                  string             `json:"title"`
	Messages               []Message          `json:"messages"`
	Branches               BranchTree         `json:"branches"`
	Diagram                DiagramState       `json:"diagram"`
	Comparisons            []*ComparisonEntry `json:"comparisons"`
	RequiresBranchDecision bool               `json:"requires_branch_decision"`
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type SubmitMessageRequest struct {
	Text        string       `json:"text" binding:"required"`
	ModelID     string       `json:"model_id"`
	Attachments []Attachment `json:"attachments"`
}

type ApplyDiagramRequest struct {
	XML string `json:"xml" binding:"required"`
}

type ExportRequest struct {
	Format string `json:"format"`
}

type RestoreVersionRequest struct {
	Index int `json:"index"`
}

type SwitchBranchRequest struct {
	BranchID string `json:"branch_id" binding:"required"`
}

type CalibrateRequest struct {
	ModelID string `json:"model_id"`
}

type RunQuickActionRequest struct {
	ModelID string `json:"model_id"`
}
