package models

// Response is the JSON envelope of every REST endpoint except the model
// compare endpoint.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
