package models

import "time"

// QuickAction is a canned prompt submitted to the chat in one click.
type QuickAction struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Badge       string    `json:"badge,omitempty"`
	Order       int       `json:"order"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateQuickActionRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Prompt      string `json:"prompt" binding:"required"`
	Badge       string `json:"badge"`
}

type UpdateQuickActionRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Prompt      *string `json:"prompt"`
	Badge       *string `json:"badge"`
}

type ReorderQuickActionsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

type QuickActionListResponse struct {
	Actions []QuickAction `json:"actions"`
	Total   int           `json:"total"`
}

// DefaultQuickActions seeds an empty quick action store.
var DefaultQuickActions = []QuickAction{
	{
		ID:          "aws-refresh",
		Title:       "Rebuild this AWS architecture",
		Description: "Redraw the canvas with current AWS icons and even spacing.",
		Prompt:      "Read the current architecture diagram and redraw it inside an 800x600 canvas using the 2025 AWS icon set, short labels and balanced spacing.",
		Badge:       "architecture",
	},
	{
		ID:          "journey",
		Title:       "Customer journey map",
		Description: "Goals, touchpoints and emotions across four stages.",
		Prompt:      "Draw a customer journey map with the stages discover, consider, adopt and support. Add swimlanes for goals, touchpoints and emotions, with arrows between the stages.",
		Badge:       "strategy",
	},
	{
		ID:          "polish",
		Title:       "Polish the current diagram",
		Description: "Tidy spacing, align nodes and highlight the main flow.",
		Prompt:      "Review the current diagram, tidy the layout, align related nodes and give each swimlane a light background. Keep all existing content unchanged.",
		Badge:       "tidy",
	},
	{
		ID:          "explain",
		Title:       "Explain the current diagram",
		Description: "Summarize the structure and suggest the next improvement.",
		Prompt:      "Read the current diagram XML, summarize its structure for a product manager and suggest the single most impactful improvement. Do not modify the diagram yet.",
		Badge:       "insight",
	},
}
