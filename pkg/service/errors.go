package service

import (
	"errors"
	"fmt"

	"github.com/flowpilot/flowpilot/pkg/diagram"
)

// DecisionPendingMessage is the fixed text of ErrBranchDecisionPending.
const DecisionPendingMessage = "a comparison result is awaiting your decision: apply or dismiss a candidate first"

var (
	// ErrBranchDecisionPending rejects mutating entry points while the
	// decision gate is set.
	ErrBranchDecisionPending = errors.New(DecisionPendingMessage)

	ErrRepairExhausted   = errors.New("automatic repair failed")
	ErrExportTimeout     = errors.New("canvas export timed out")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrVersionNotFound   = errors.New("diagram version not found")
	ErrMessageIndex      = errors.New("message index out of range")
	ErrComparisonBusy    = errors.New("another comparison is already running")
	ErrComparisonLoading = errors.New("comparison results are not settled yet")
	ErrEntryNotFound     = errors.New("comparison entry not found")
	ErrResultNotFound    = errors.New("comparison result not found")
	ErrResultNotUsable   = errors.New("comparison result has no usable diagram")
	ErrNoActiveBranch    = errors.New("no active branch")
	ErrUnknownExportReq  = errors.New("unknown or expired export request")
	ErrCanvasLoad        = errors.New("canvas did not accept the document")
)

// RepairCodeMalformed tags ErrRepairMalformed.
const RepairCodeMalformed = "REPAIR_MALFORMED"

// ErrRepairMalformed is returned by the repair client when the model output
// cannot be read as a repair of the expected shape.
var ErrRepairMalformed = &RepairError{Code: RepairCodeMalformed, Message: "repair output is malformed"}

// RepairError is a coded repair client failure.
type RepairError struct {
	Code    string
	Message string
	Err     error
}

func (e *RepairError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("(%s) %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("(%s) %s", e.Code, e.Message)
}

func (e *RepairError) Unwrap() error { return e.Err }

// Is matches any RepairError with the same code.
func (e *RepairError) Is(target error) bool {
	t, ok := target.(*RepairError)
	return ok && t.Code == e.Code
}

func malformedRepair(format string, args ...any) error {
	return &RepairError{Code: RepairCodeMalformed, Message: "repair output is malformed", Err: fmt.Errorf(format, args...)}
}

// ValidationFailure is returned by applies that were rejected without repair.
type ValidationFailure struct {
	Errors []diagram.ValidationError
}

func (e *ValidationFailure) Error() string {
	return "diagram rejected: " + diagram.SummarizeErrors(e.Errors)
}

// RuntimeRenderError is a canvas rejection of a document that passed validation.
type RuntimeRenderError struct {
	Message string
}

func (e *RuntimeRenderError) Error() string {
	return "canvas rejected diagram: " + e.Message
}

// ComparisonRequestError reports a failed comparison request as a whole.
type ComparisonRequestError struct {
	RequestID string
	Err       error
}

func (e *ComparisonRequestError) Error() string {
	return fmt.Sprintf("comparison %s failed: %v", e.RequestID, e.Err)
}

func (e *ComparisonRequestError) Unwrap() error { return e.Err }

// ComparisonPreconditionError is a synchronous rejection of a comparison request.
type ComparisonPreconditionError struct {
	Reason string
}

func (e *ComparisonPreconditionError) Error() string {
	return "cannot start comparison: " + e.Reason
}
