package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	SessionCreated    = "session.created"
	SessionDeleted    = "session.deleted"
	BranchChanged     = "branch.changed"
	MessagesChanged   = "messages.changed"
	DiagramCommitted  = "diagram.committed"
	RepairState       = "repair.state"
	VersionAdded      = "version.added"
	ComparisonUpdated = "comparison.updated"
	GateChanged       = "gate.changed"
	CanvasLoad        = "canvas.load"
	CanvasExport      = "canvas.export"
)

// ============================================================================
// Session Events
// ============================================================================

type SessionCreatedEvent struct {
	Session string `json:"session_id"`
	Title   string `json:"title"`
}

func (e SessionCreatedEvent) EventName() string { return SessionCreated }
func (e SessionCreatedEvent) SessionID() string { return e.Session }

type SessionDeletedEvent struct {
	Session string `json:"session_id"`
}

func (e SessionDeletedEvent) EventName() string { return SessionDeleted }
func (e SessionDeletedEvent) SessionID() string { return e.Session }

// ============================================================================
// Branch Events
// ============================================================================

// BranchChangedEvent is emitted after any branch set mutation.
type BranchChangedEvent struct {
	Session        string `json:"session_id"`
	ActiveBranchID string `json:"active_branch_id"`
	Reason         string `json:"reason"` // create, switch, update, reset
}

func (e BranchChangedEvent) EventName() string { return BranchChanged }
func (e BranchChangedEvent) SessionID() string { return e.Session }

// MessagesChangedEvent is emitted when the live transcript changes.
type MessagesChangedEvent struct {
	Session string `json:"session_id"`
	Count   int    `json:"count"`
}

func (e MessagesChangedEvent) EventName() string { return MessagesChanged }
func (e MessagesChangedEvent) SessionID() string { return e.Session }

// ============================================================================
// Diagram Events
// ============================================================================

// DiagramCommittedEvent is emitted when a validated document is committed.
type DiagramCommittedEvent struct {
	Session string `json:"session_id"`
	Origin  string `json:"origin"`
}

func (e DiagramCommittedEvent) EventName() string { return DiagramCommitted }
func (e DiagramCommittedEvent) SessionID() string { return e.Session }

// RepairStateEvent mirrors the auto repair banner.
type RepairStateEvent struct {
	Session string   `json:"session_id"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Notes   []string `json:"notes,omitempty"`
}

func (e RepairStateEvent) EventName() string { return RepairState }
func (e RepairStateEvent) SessionID() string { return e.Session }

// VersionAddedEvent is emitted after a successful export is recorded.
type VersionAddedEvent struct {
	Session string `json:"session_id"`
	Index   int    `json:"index"`
}

func (e VersionAddedEvent) EventName() string { return VersionAdded }
func (e VersionAddedEvent) SessionID() string { return e.Session }

// ============================================================================
// Comparison Events
// ============================================================================

type ComparisonUpdatedEvent struct {
	Session   string `json:"session_id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (e ComparisonUpdatedEvent) EventName() string { return ComparisonUpdated }
func (e ComparisonUpdatedEvent) SessionID() string { return e.Session }

// GateChangedEvent reports the decision gate flipping.
type GateChangedEvent struct {
	Session          string `json:"session_id"`
	RequiresDecision bool   `json:"requires_decision"`
}

func (e GateChangedEvent) EventName() string { return GateChanged }
func (e GateChangedEvent) SessionID() string { return e.Session }

// ============================================================================
// Canvas Commands
// ============================================================================

// CanvasLoadEvent asks the canvas widget to display XML.
type CanvasLoadEvent struct {
	Session string `json:"session_id"`
	XML     string `json:"xml"`
}

func (e CanvasLoadEvent) EventName() string { return CanvasLoad }
func (e CanvasLoadEvent) SessionID() string { return e.Session }

// CanvasExportEvent asks the canvas widget to export and post the result
// back under RequestID.
type CanvasExportEvent struct {
	Session   string `json:"session_id"`
	RequestID string `json:"request_id"`
	Format    string `json:"format"`
}

func (e CanvasExportEvent) EventName() string { return CanvasExport }
func (e CanvasExportEvent) SessionID() string { return e.Session }
