package models

// MaxCustomModels caps the custom model preference list.
const MaxCustomModels = 10

// CustomModel is a user-added model id remembered across sessions, most
// recently used first.
type CustomModel struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	LastUsed int64  `json:"lastUsed"` // unix milliseconds
}

type TouchCustomModelRequest struct {
	ID    string `json:"id" binding:"required"`
	Label string `json:"label"`
}
