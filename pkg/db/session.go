// Database models for editor sessions
package db

import "time"

// Session holds the scalar state of one editor session. Branches and
// comparisons live in their own tables keyed by SessionID.
type Session struct {
	ID                     string           `json:"id" gorm:"primaryKey;size:36"`
	Title                  string           `json:"title" gorm:"size:200"`
	ActiveBranchID         string           `json:"active_branch_id" gorm:"size:36"`
	LatestXML              string           `json:"latest_xml" gorm:"type:text"`
	RequiresBranchDecision bool             `json:"requires_branch_decision"`
	Versions               []DiagramVersion `json:"versions" gorm:"serializer:json;type:text"`
	ActiveVersionIndex     int              `json:"active_version_index"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// DiagramVersion is one successful canvas export.
type DiagramVersion struct {
	PreviewImage string    `json:"preview_image"` // data URL as produced by the canvas
	XML          string    `json:"xml"`
	CreatedAt    time.Time `json:"created_at"`
}
