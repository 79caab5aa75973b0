// Database models for conversation branches
package db

import "time"

// Branch is one fork of the conversation. Messages and DiagramXML are value
// snapshots owned by the branch.
type Branch struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	SessionID  string     `json:"session_id" gorm:"index;size:36;not null"`
	ParentID   *string    `json:"parent_id" gorm:"index;size:36"` // nil only for the root branch
	Label      string     `json:"label" gorm:"size:200"`
	DiagramXML *string    `json:"diagram_xml,omitempty" gorm:"type:text"`
	Messages   []Message  `json:"messages" gorm:"serializer:json;type:text"`
	Meta       BranchMeta `json:"meta" gorm:"serializer:json;type:text"`
	Seq        int        `json:"-" gorm:"index"` // creation order within the session
	CreatedAt  time.Time  `json:"created_at"`
}

func (Branch) TableName() string {
	return "branches"
}

// Branch types
const (
	BranchTypeRoot       = "root"
	BranchTypeManual     = "manual"
	BranchTypeHistory    = "history"
	BranchTypeComparison = "comparison"
)

// BranchMeta tags how a branch came to exist. The comparison fields are only
// set for BranchTypeComparison.
type BranchMeta struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ResultID  string `json:"result_id,omitempty"`
	Label     string `json:"label,omitempty"`
}

// Message is one chat transcript entry.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"` // user, assistant, system, tool
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	DiagramXML  *string      `json:"diagram_xml,omitempty"` // document committed by this message
	CreatedAt   time.Time    `json:"created_at"`
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation recorded on an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Attachment is an image passed along with a user message, as a data or
// remote URL.
type Attachment struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
}
