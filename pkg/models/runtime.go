package models

// RuntimeInfo describes the backend runtime settings that the frontend may need.
type RuntimeInfo struct {
	HTTPBaseURL string `json:"http_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	Port        int    `json:"port"`
	Storage     string `json:"storage"`
}
