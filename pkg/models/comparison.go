package models

import (
	"encoding/json"
	"strconv"

	"github.com/flowpilot/flowpilot/pkg/db"
)

type ComparisonEntry = db.ComparisonEntry
type ComparisonModel = db.ComparisonModel
type ComparisonResult = db.ComparisonResult

const (
	ComparisonStatusLoading = db.ComparisonStatusLoading
	ComparisonStatusReady   = db.ComparisonStatusReady

	ResultStatusLoading = db.ResultStatusLoading
	ResultStatusOK      = db.ResultStatusOK
	ResultStatusError   = db.ResultStatusError
)

// NoUsableResultMessage is the error text of a result that carried no xml
// and no better explanation.
const NoUsableResultMessage = "model returned no usable result"

// SlotName returns "A", "B", ... for position i.
func SlotName(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return strconv.Itoa(i + 1)
}

// ComparisonRequest starts a comparison inside a session.
type ComparisonRequest struct {
	Prompt      string            `json:"prompt"`
	Models      []ComparisonModel `json:"models"`
	Brief       string            `json:"brief,omitempty"`
	Badges      []string          `json:"badges,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// ========== Model compare endpoint ==========

// CompareModelInput accepts either a bare model id string or {id, label}.
type CompareModelInput struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

func (m *CompareModelInput) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		m.ID = id
		m.Label = ""
		return nil
	}
	type plain CompareModelInput
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = CompareModelInput(p)
	return nil
}

// CompareRequest is the body of POST /api/model-compare.
type CompareRequest struct {
	Models      []CompareModelInput `json:"models"`
	Prompt      string              `json:"prompt"`
	XML         string              `json:"xml"`
	Brief       string              `json:"brief,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
}

// CompareResult is one positional entry of CompareResponse.
type CompareResult struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Provider string `json:"provider"`
	Status   string `json:"status"` // ok or error
	Summary  string `json:"summary,omitempty"`
	XML      string `json:"xml,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CompareResponse is the body returned by POST /api/model-compare.
type CompareResponse struct {
	Results []CompareResult `json:"results"`
}

// CompareErrorResponse is returned with 400 and 500 statuses.
type CompareErrorResponse struct {
	Error string `json:"error"`
}
