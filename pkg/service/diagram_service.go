package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

const (
	repairingMessage    = "Caught an XML problem; running generate, validate, repair, render."
	repairedEditNote    = "Repaired automatically with targeted edits."
	repairedDisplayNote = "Replaced with a corrected version."
)

var repairingNotes = []string{
	"Comparing against the last good canvas to locate missing or malformed cell attributes.",
	"The canvas refreshes automatically once the repaired diagram validates.",
}

var repairFailedNotes = []string{
	"The canvas still shows the last good diagram.",
	"Rephrase the request or ask for fewer nodes at once, then try again.",
	"If the problem persists, clear the conversation to reset the canvas.",
}

// CanvasLoader pushes a committed document to the canvas.
type CanvasLoader interface {
	Load(ctx context.Context, xml string) error
}

// DiagramSnapshotWriter receives committed documents for the active branch.
type DiagramSnapshotWriter interface {
	UpdateActiveBranchDiagram(xml string)
}

// DiagramService owns the committed document of one session. Every
// mutation goes through merge and validation; the canvas only ever receives
// documents that validated, and a document is committed only after the
// canvas accepted it. Applies are single-flight: the merge base is read and
// the result committed under one lock.
type DiagramService struct {
	sessionID string
	canvas    CanvasLoader
	snapshots DiagramSnapshotWriter
	repairer  Repairer
	emitter   *event.Emitter
	logger    *slog.Logger

	applyMu sync.Mutex

	mu      sync.RWMutex
	latest  string
	pending *models.PendingDiagram
	// baseline is the committed document the pending candidate replaced.
	baseline string
	repair   models.AutoRepairState
}

func NewDiagramService(sessionID string, canvas CanvasLoader, snapshots DiagramSnapshotWriter, repairer Repairer, emitter *event.Emitter) *DiagramService {
	return &DiagramService{
		sessionID: sessionID,
		canvas:    canvas,
		snapshots: snapshots,
		repairer:  repairer,
		emitter:   emitter,
		logger:    utils.GetLogger().With("session", sessionID),
		latest:    diagram.EmptyDocument,
		repair:    models.IdleRepairState(),
	}
}

// Latest returns the committed document.
func (s *DiagramService) Latest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Pending returns the last submitted candidate, if any.
func (s *DiagramService) Pending() *models.PendingDiagram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// RepairState returns the auto repair banner state.
func (s *DiagramService) RepairState() models.AutoRepairState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repair
}

func (s *DiagramService) setPending(p *models.PendingDiagram, baseline string) {
	s.mu.Lock()
	s.pending = p
	s.baseline = baseline
	s.mu.Unlock()
}

func (s *DiagramService) pendingBaseline() (*models.PendingDiagram, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil, ""
	}
	p := *s.pending
	return &p, s.baseline
}

// AcknowledgeRender records that the canvas rendered xml. Once the
// committed document has rendered, the pending candidate is settled and a
// later runtime error is no longer attributed to it.
func (s *DiagramService) AcknowledgeRender(xml string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || xml != s.latest {
		return false
	}
	s.pending = nil
	s.baseline = ""
	return true
}

func (s *DiagramService) setRepairState(next models.AutoRepairState) {
	s.mu.Lock()
	prev := s.repair
	if !prev.CanTransition(next.Status) {
		s.logger.Error("unexpected repair transition", "from", prev.Status, "to", next.Status)
	}
	s.repair = next
	s.mu.Unlock()
	s.emitRepair(next)
}

func (s *DiagramService) emitRepair(st models.AutoRepairState) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(event.RepairStateEvent{Session: s.sessionID, Status: string(st.Status), Message: st.Message, Notes: st.Notes})
}

// ApplyCandidate merges xml as the mutable subtree of the committed
// document, validates the result and commits it. An invalid merge is
// repaired at most once when meta allows it.
func (s *DiagramService) ApplyCandidate(ctx context.Context, xml string, meta models.UpdateMeta) (*models.ApplyOutcome, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	return s.applyLocked(ctx, xml, meta)
}

func (s *DiagramService) applyLocked(ctx context.Context, xml string, meta models.UpdateMeta) (*models.ApplyOutcome, error) {
	if meta.Origin == "" {
		meta.Origin = models.OriginDisplay
	}
	base := s.Latest()
	s.setPending(&models.PendingDiagram{XML: xml, Origin: meta.Origin, ModelRuntime: meta.ModelRuntime}, base)

	invalid, errs, normalized := mergeAndValidate(base, xml)
	if len(errs) == 0 {
		out, err := s.commit(ctx, normalized, meta.Origin, "")
		if err != nil {
			s.setPending(nil, "")
		}
		return out, err
	}

	s.logger.Info("candidate rejected", "origin", meta.Origin, "model", meta.ModelRuntime,
		"errors", diagram.SummarizeErrors(errs))
	if !meta.RepairAllowed() {
		return s.rejected(errs), &ValidationFailure{Errors: errs}
	}
	return s.runRepair(ctx, repairInput{
		invalid:      invalid,
		current:      base,
		errorContext: diagram.SummarizeErrors(errs),
		modelRuntime: meta.ModelRuntime,
		errors:       errs,
	})
}

// mergeAndValidate returns the document to hand to repair, the defects
// found, and the normalized document when there are none. A candidate that
// cannot be merged at all is returned raw.
func mergeAndValidate(base, candidate string) (string, []diagram.ValidationError, string) {
	merged, err := diagram.ReplaceMutableSubtree(base, candidate)
	if err != nil {
		return candidate, []diagram.ValidationError{{Code: diagram.CodeParseError, Message: err.Error()}}, ""
	}
	res := diagram.Validate(merged)
	if !res.IsValid {
		return merged, res.Errors, ""
	}
	return merged, nil, res.NormalizedXML
}

// ApplyEdits applies search/replace edits to the committed document and
// routes the result through the same merge and validation as a display.
func (s *DiagramService) ApplyEdits(ctx context.Context, edits []models.TextEdit, meta models.UpdateMeta) (*models.ApplyOutcome, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if meta.Origin == "" {
		meta.Origin = models.OriginEdit
	}
	base := s.Latest()
	edited, err := diagram.ApplyTextEdits(base, edits)
	if err == nil {
		return s.applyLocked(ctx, edited, meta)
	}

	s.logger.Info("edits rejected", "model", meta.ModelRuntime, "error", err)
	var editErr *diagram.EditError
	if !errors.As(err, &editErr) || !meta.RepairAllowed() {
		return s.rejected(nil), err
	}
	return s.runRepair(ctx, repairInput{
		invalid:      base,
		current:      base,
		errorContext: err.Error(),
		modelRuntime: meta.ModelRuntime,
	})
}

// HandleRuntimeError handles a canvas rejection of a document that passed
// validation. The pending candidate is repaired once against the document
// it replaced; without one, or when the rejected document is itself a
// repair, the state goes straight to failed. A failed repair restores the
// replaced document, and the candidate is settled either way.
func (s *DiagramService) HandleRuntimeError(ctx context.Context, rerr models.RuntimeError) (*models.ApplyOutcome, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	renderErr := &RuntimeRenderError{Message: rerr.Message}
	pending, base := s.pendingBaseline()
	if pending == nil || pending.Origin == models.OriginRepair {
		s.logger.Warn("canvas runtime error with nothing to repair", "error", renderErr)
		s.setRepairState(models.FailedRepairState(
			"The canvas reported an error: "+rerr.Message,
			"Send the request again or rephrase it.",
			"If it keeps failing, clear the conversation to refresh the canvas.",
		))
		if pending != nil {
			s.rollback(ctx, base)
		}
		return s.rejected(nil), nil
	}

	if base == "" {
		base = s.Latest()
	}
	invalid := pending.XML
	if merged, err := diagram.ReplaceMutableSubtree(base, pending.XML); err == nil {
		invalid = merged
	}
	return s.runRepair(ctx, repairInput{
		invalid:      invalid,
		current:      base,
		errorContext: renderErr.Error(),
		modelRuntime: pending.ModelRuntime,
		rollback:     true,
	})
}

// rollback recommits base after the canvas rejected the document that
// replaced it, and settles the pending candidate.
func (s *DiagramService) rollback(ctx context.Context, base string) {
	s.setPending(nil, "")
	if base == "" || base == s.Latest() {
		return
	}
	if _, err := s.commit(ctx, base, models.OriginDisplay, ""); err != nil {
		s.logger.Warn("restoring previous diagram failed", "error", err)
	}
}

type repairInput struct {
	invalid      string
	current      string
	errorContext string
	modelRuntime string
	errors       []diagram.ValidationError
	// rollback restores current when the repair fails.
	rollback bool
}

func (s *DiagramService) runRepair(ctx context.Context, in repairInput) (*models.ApplyOutcome, error) {
	s.setRepairState(models.RepairingState(repairingMessage, repairingNotes...))

	result, err := s.repairer.RequestRepair(ctx, RepairRequest{
		InvalidXML:   in.invalid,
		CurrentXML:   in.current,
		ErrorContext: in.errorContext,
		ModelRuntime: in.modelRuntime,
	})
	if err != nil {
		return s.repairFailed(ctx, in, err), nil
	}

	var (
		repaired string
		note     string
	)
	switch result.Strategy {
	case models.RepairStrategyDisplay:
		repaired, err = diagram.ReplaceMutableSubtree(in.current, result.XML)
		note = repairedDisplayNote
	case models.RepairStrategyEdit:
		var patched string
		patched, err = diagram.ApplyTextEdits(in.invalid, result.Edits)
		if err != nil {
			patched, err = diagram.ApplyTextEdits(in.current, result.Edits)
		}
		if err == nil {
			repaired, err = diagram.ReplaceMutableSubtree(in.current, patched)
		}
		note = repairedEditNote
	default:
		err = malformedRepair("unknown strategy %q", result.Strategy)
	}
	if err != nil {
		return s.repairFailed(ctx, in, err), nil
	}

	res := diagram.Validate(repaired)
	if !res.IsValid {
		return s.repairFailed(ctx, in, &ValidationFailure{Errors: res.Errors}), nil
	}
	if result.Notes != "" {
		note += " " + result.Notes
	}
	s.setPending(&models.PendingDiagram{XML: res.NormalizedXML, Origin: models.OriginRepair, ModelRuntime: in.modelRuntime}, in.current)
	out, err := s.commit(ctx, res.NormalizedXML, models.OriginRepair, note)
	if err != nil {
		return s.repairFailed(ctx, in, err), nil
	}
	return out, nil
}

func (s *DiagramService) repairFailed(ctx context.Context, in repairInput, cause error) *models.ApplyOutcome {
	s.logger.Warn("automatic repair failed", "model", in.modelRuntime, "error", cause)
	s.setRepairState(models.FailedRepairState(ErrRepairExhausted.Error()+": "+cause.Error(), repairFailedNotes...))
	if in.rollback {
		s.rollback(ctx, in.current)
	}
	return s.rejected(in.errors)
}

func (s *DiagramService) rejected(errs []diagram.ValidationError) *models.ApplyOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.ApplyOutcome{Committed: false, XML: s.latest, Repair: s.repair, Errors: errs}
}

// commit loads xml onto the canvas and makes it the committed document. A
// canvas that refuses the load leaves the committed state untouched. A
// non-empty repairNote marks a successful repair; other commits clear the
// banner unless it shows a failure.
func (s *DiagramService) commit(ctx context.Context, xml string, origin models.Origin, repairNote string) (*models.ApplyOutcome, error) {
	if err := s.canvas.Load(ctx, xml); err != nil {
		s.logger.Warn("canvas load failed", "origin", origin, "error", err)
		return s.rejected(nil), fmt.Errorf("%w: %v", ErrCanvasLoad, err)
	}

	s.mu.Lock()
	s.latest = xml
	prev := s.repair
	switch {
	case repairNote != "":
		s.repair = models.IdleRepairStateWithNote(repairNote)
	case prev.Status != models.RepairFailed:
		s.repair = models.IdleRepairState()
	}
	st := s.repair
	s.mu.Unlock()

	if s.snapshots != nil {
		s.snapshots.UpdateActiveBranchDiagram(xml)
	}
	if s.emitter != nil {
		s.emitter.Emit(event.DiagramCommittedEvent{Session: s.sessionID, Origin: string(origin)})
	}
	if st.Status != prev.Status || repairNote != "" {
		s.emitRepair(st)
	}
	return &models.ApplyOutcome{Committed: true, XML: xml, Repaired: repairNote != "", Repair: st}, nil
}

// LoadDocument commits a full document, such as a branch snapshot or a
// restored version. It is validated but never repaired.
func (s *DiagramService) LoadDocument(ctx context.Context, xml string) (*models.ApplyOutcome, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	res := diagram.Validate(xml)
	if !res.IsValid {
		return s.rejected(res.Errors), &ValidationFailure{Errors: res.Errors}
	}
	s.setPending(nil, "")
	return s.commit(ctx, res.NormalizedXML, models.OriginDisplay, "")
}

// DismissRepairState clears the banner.
func (s *DiagramService) DismissRepairState() {
	s.mu.Lock()
	s.repair = models.IdleRepairState()
	s.mu.Unlock()
	s.emitRepair(models.IdleRepairState())
}

// Reset returns to the empty document.
func (s *DiagramService) Reset(ctx context.Context) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	s.latest = diagram.EmptyDocument
	s.pending = nil
	s.baseline = ""
	s.repair = models.IdleRepairState()
	s.mu.Unlock()
	s.emitRepair(models.IdleRepairState())
	return s.canvas.Load(ctx, diagram.EmptyDocument)
}

// Restore sets the committed document from persisted state without
// touching the canvas.
func (s *DiagramService) Restore(xml string) {
	if xml == "" {
		xml = diagram.EmptyDocument
	}
	s.mu.Lock()
	s.latest = xml
	s.mu.Unlock()
}
