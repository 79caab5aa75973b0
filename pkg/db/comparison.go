// Database models for model comparisons
package db

import "time"

// Comparison entry status
const (
	ComparisonStatusLoading = "loading"
	ComparisonStatusReady   = "ready"
)

// Comparison result status
const (
	ResultStatusLoading = "loading"
	ResultStatusOK      = "ok"
	ResultStatusError   = "error"
)

// ComparisonEntry is one comparison request and its per-model results.
// Results are positionally aligned with Models.
type ComparisonEntry struct {
	RequestID       string             `json:"request_id" gorm:"primaryKey;size:36"`
	SessionID       string             `json:"session_id" gorm:"index;size:36;not null"`
	Prompt          string             `json:"prompt" gorm:"type:text"`
	Timestamp       time.Time          `json:"timestamp"`
	Badges          []string           `json:"badges" gorm:"serializer:json;type:text"`
	Models          []ComparisonModel  `json:"models" gorm:"serializer:json;type:text"`
	Status          string             `json:"status" gorm:"size:20"`
	Results         []ComparisonResult `json:"results" gorm:"serializer:json;type:text"`
	AnchorMessageID *string            `json:"anchor_message_id,omitempty" gorm:"size:36"`
	AdoptedResultID *string            `json:"adopted_result_id,omitempty" gorm:"size:36"`
	Seq             int                `json:"-" gorm:"index"`
}

func (ComparisonEntry) TableName() string {
	return "comparisons"
}

// ComparisonModel describes the model bound to one slot.
type ComparisonModel struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Provider string `json:"provider"`
	Slot     string `json:"slot"`
}

// ComparisonResult is the normalized outcome for one slot. BranchID is
// written once, when the candidate's branch is materialized.
type ComparisonResult struct {
	ID       string            `json:"id"`
	ModelID  string            `json:"model_id"`
	Label    string            `json:"label"`
	Provider string            `json:"provider"`
	Slot     string            `json:"slot"`
	Status   string            `json:"status"`
	XML      string            `json:"xml,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Error    string            `json:"error,omitempty"`
	BranchID string            `json:"branch_id,omitempty"`
	Previous *ComparisonResult `json:"previous,omitempty"` // last success replaced by a failed retry
}
