package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// Comparer runs one prompt against several models; the compare endpoint
// engine implements it.
type Comparer interface {
	Compare(ctx context.Context, req models.CompareRequest) (*models.CompareResponse, error)
}

// BranchSwitcher activates a branch and re-applies its messages and diagram
// to the live session.
type BranchSwitcher interface {
	SwitchBranch(ctx context.Context, branchID string) (*models.Branch, error)
}

// StartComparisonInput is a comparison request inside a session.
type StartComparisonInput struct {
	Prompt            string
	Models            []models.ComparisonModel
	CurrentDiagramXML string
	Brief             string
	Badges            []string
	Attachments       []models.Attachment
	AnchorMessageID   *string
}

// requestContext is what a request captured when it was issued. Retries
// reuse it so every candidate of one request shares parent and seed.
type requestContext struct {
	xml         string
	brief       string
	attachments []models.Attachment
	parentID    string
	messages    []models.Message
}

// ComparisonService runs the comparison state machine of one session:
// loading entry, fan-out, normalization, one branch per usable result and
// the decision gate. Late results are written only while their entry is
// still in the history.
type ComparisonService struct {
	sessionID string
	comparer  Comparer
	branches  *BranchService
	gate      *DecisionGate
	switcher  BranchSwitcher
	emitter   *event.Emitter
	logger    *slog.Logger

	mu       sync.Mutex
	entries  []*models.ComparisonEntry
	requests map[string]*requestContext
	inFlight string
	retrying map[string]bool
	// creating holds results whose branch is being created on apply.
	creating map[string]bool
	seq      int
}

func NewComparisonService(sessionID string, comparer Comparer, branches *BranchService, gate *DecisionGate, switcher BranchSwitcher, emitter *event.Emitter) *ComparisonService {
	return &ComparisonService{
		sessionID: sessionID,
		comparer:  comparer,
		branches:  branches,
		gate:      gate,
		switcher:  switcher,
		emitter:   emitter,
		logger:    utils.GetLogger().With("session", sessionID),
		requests:  make(map[string]*requestContext),
		retrying:  make(map[string]bool),
		creating:  make(map[string]bool),
	}
}

func (s *ComparisonService) emit(requestID, status string) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(event.ComparisonUpdatedEvent{Session: s.sessionID, RequestID: requestID, Status: status})
}

func (s *ComparisonService) checkStart(in StartComparisonInput) error {
	if s.inFlight != "" {
		return ErrComparisonBusy
	}
	distinct := lo.UniqBy(
		lo.Filter(in.Models, func(m models.ComparisonModel, _ int) bool { return strings.TrimSpace(m.ID) != "" }),
		func(m models.ComparisonModel) string { return strings.ToLower(strings.TrimSpace(m.ID)) },
	)
	if len(distinct) < 2 || len(distinct) != len(in.Models) {
		return &ComparisonPreconditionError{Reason: "configure at least two distinct models"}
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return &ComparisonPreconditionError{Reason: "prompt must not be empty"}
	}
	return s.gate.Check()
}

// Start validates the request, records a loading entry, sets the gate and
// fans out in the background. done is closed once the entry left loading.
func (s *ComparisonService) Start(ctx context.Context, in StartComparisonInput) (*models.ComparisonEntry, <-chan struct{}, error) {
	s.mu.Lock()
	if err := s.checkStart(in); err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}

	requestID := uuid.New().String()
	entry := &models.ComparisonEntry{
		RequestID:       requestID,
		SessionID:       s.sessionID,
		Prompt:          in.Prompt,
		Timestamp:       time.Now(),
		Badges:          slices.Clone(in.Badges),
		Status:          models.ComparisonStatusLoading,
		AnchorMessageID: cloneString(in.AnchorMessageID),
		Seq:             s.seq,
	}
	for i, m := range in.Models {
		m.Slot = models.SlotName(i)
		if m.Label == "" {
			m.Label = m.ID
		}
		entry.Models = append(entry.Models, m)
		entry.Results = append(entry.Results, models.ComparisonResult{
			ID:       uuid.New().String(),
			ModelID:  m.ID,
			Label:    m.Label,
			Provider: m.Provider,
			Slot:     m.Slot,
			Status:   models.ResultStatusLoading,
		})
	}
	s.seq++
	s.entries = append(s.entries, entry)
	s.inFlight = requestID
	// seed with the history as of now, not as of completion
	rc := &requestContext{
		xml:         in.CurrentDiagramXML,
		brief:       in.Brief,
		attachments: slices.Clone(in.Attachments),
		parentID:    s.branches.ActiveID(),
		messages:    s.branches.ActiveMessages(),
	}
	s.requests[requestID] = rc
	out := cloneEntry(entry)
	s.mu.Unlock()

	s.gate.Set(true)
	s.emit(requestID, models.ComparisonStatusLoading)
	s.logger.Info("comparison started", "request_id", requestID, "models", len(in.Models))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.WithoutCancel(ctx), requestID, out.Models, in.Prompt, rc)
	}()
	return out, done, nil
}

// Run starts a comparison and waits for it to settle.
func (s *ComparisonService) Run(ctx context.Context, in StartComparisonInput) (*models.ComparisonEntry, error) {
	entry, done, err := s.Start(ctx, in)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e := s.Entry(entry.RequestID); e != nil {
		return e, nil
	}
	return entry, nil
}

func compareInputs(ms []models.ComparisonModel) []models.CompareModelInput {
	return lo.Map(ms, func(m models.ComparisonModel, _ int) models.CompareModelInput {
		return models.CompareModelInput{ID: m.ID, Label: m.Label}
	})
}

// run fans out and joins. The entry stays loading until every usable
// result has its branch; results, branch ids and the ready status are then
// published together.
func (s *ComparisonService) run(ctx context.Context, requestID string, ms []models.ComparisonModel, prompt string, rc *requestContext) {
	resp, err := s.comparer.Compare(ctx, models.CompareRequest{
		Models:      compareInputs(ms),
		Prompt:      prompt,
		XML:         rc.xml,
		Brief:       rc.brief,
		Attachments: rc.attachments,
	})
	if err != nil {
		err = &ComparisonRequestError{RequestID: requestID, Err: err}
		s.logger.Warn("comparison request failed", "request_id", requestID, "error", err)
	}

	s.mu.Lock()
	entry := s.findLocked(requestID)
	if entry == nil {
		s.clearInFlightLocked(requestID)
		s.mu.Unlock()
		s.logger.Debug("dropping results of a discarded comparison", "request_id", requestID)
		return
	}
	results := slices.Clone(entry.Results)
	s.mu.Unlock()

	usable := 0
	for i := range results {
		var raw *models.CompareResult
		if err == nil && i < len(resp.Results) {
			raw = &resp.Results[i]
		}
		normalizeResult(&results[i], raw, err)
		if results[i].Status == models.ResultStatusOK {
			results[i].BranchID = s.createBranch(requestID, results[i], rc)
			usable++
		}
	}

	s.mu.Lock()
	s.clearInFlightLocked(requestID)
	entry = s.findLocked(requestID)
	if entry == nil {
		s.mu.Unlock()
		s.logger.Debug("dropping results of a discarded comparison", "request_id", requestID)
		return
	}
	copy(entry.Results, results)
	entry.Status = models.ComparisonStatusReady
	s.mu.Unlock()

	if usable == 0 {
		s.gate.Set(false)
	}
	s.emit(requestID, models.ComparisonStatusReady)
	s.logger.Info("comparison ready", "request_id", requestID, "usable", usable)
}

func (s *ComparisonService) clearInFlightLocked(requestID string) {
	if s.inFlight == requestID {
		s.inFlight = ""
	}
}

// normalizeResult folds a raw endpoint result into a card. Only a result
// with non-empty xml counts as ok.
func normalizeResult(dst *models.ComparisonResult, raw *models.CompareResult, reqErr error) {
	dst.XML, dst.Summary, dst.Error = "", "", ""
	switch {
	case reqErr != nil:
		dst.Status = models.ResultStatusError
		dst.Error = reqErr.Error()
	case raw != nil && raw.Status == models.ResultStatusOK && strings.TrimSpace(raw.XML) != "":
		dst.Status = models.ResultStatusOK
		dst.XML = raw.XML
		dst.Summary = raw.Summary
		if raw.Provider != "" {
			dst.Provider = raw.Provider
		}
	default:
		dst.Status = models.ResultStatusError
		dst.Error = models.NoUsableResultMessage
		if raw != nil && strings.TrimSpace(raw.Error) != "" {
			dst.Error = raw.Error
		}
	}
}

// createBranch creates the comparison branch of an ok result without
// activating it. It returns "" when the parent is gone.
func (s *ComparisonService) createBranch(requestID string, r models.ComparisonResult, rc *requestContext) string {
	xml := r.XML
	activate := false
	branch := s.branches.CreateBranch(models.CreateBranchOptions{
		ParentID:     rc.parentID,
		Label:        fmt.Sprintf("Compare %s: %s", r.Slot, r.Label),
		DiagramXML:   &xml,
		Meta:         models.BranchMeta{Type: models.BranchTypeComparison, RequestID: requestID, ResultID: r.ID, Label: r.Label},
		Activate:     &activate,
		SeedMessages: nonNilMessages(rc.messages),
	})
	if branch == nil {
		return ""
	}
	return branch.ID
}

// materialize returns the branch of a result, creating it when it is
// missing. The result is reserved under the lock for the duration of the
// creation so it never gets two branches.
func (s *ComparisonService) materialize(requestID, resultID string) (string, error) {
	s.mu.Lock()
	entry := s.findLocked(requestID)
	if entry == nil {
		s.mu.Unlock()
		return "", ErrEntryNotFound
	}
	res := findResult(entry, resultID)
	if res == nil {
		s.mu.Unlock()
		return "", ErrResultNotFound
	}
	if res.BranchID != "" && s.branches.Get(res.BranchID) != nil {
		id := res.BranchID
		s.mu.Unlock()
		return id, nil
	}
	if s.creating[resultID] {
		s.mu.Unlock()
		return "", ErrComparisonLoading
	}
	s.creating[resultID] = true
	r := *res
	rc := s.requests[requestID]
	s.mu.Unlock()

	if rc == nil || s.branches.Get(rc.parentID) == nil {
		rc = &requestContext{parentID: s.branches.ActiveID(), messages: s.branches.ActiveMessages()}
	}
	s.logger.Info("materializing comparison branch on apply", "request_id", requestID, "result_id", resultID)
	branchID := s.createBranch(requestID, r, rc)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creating, resultID)
	if branchID == "" {
		return "", ErrBranchNotFound
	}
	if entry := s.findLocked(requestID); entry != nil {
		if res := findResult(entry, resultID); res != nil {
			res.BranchID = branchID
		}
	}
	return branchID, nil
}

func nonNilMessages(m []models.Message) []models.Message {
	if m == nil {
		return []models.Message{}
	}
	return m
}

// RetryResult re-runs one slot of a settled entry. A success replaces the
// card with a fresh result and branch; a failure keeps the last success in
// Previous.
func (s *ComparisonService) RetryResult(ctx context.Context, requestID, resultID string) (*models.ComparisonResult, error) {
	s.mu.Lock()
	entry := s.findLocked(requestID)
	if entry == nil {
		s.mu.Unlock()
		return nil, ErrEntryNotFound
	}
	res := findResult(entry, resultID)
	if res == nil {
		s.mu.Unlock()
		return nil, ErrResultNotFound
	}
	if entry.Status != models.ComparisonStatusReady || s.retrying[resultID] {
		s.mu.Unlock()
		return nil, ErrComparisonBusy
	}
	prev := *res
	lastSuccess := prev.Previous
	prev.Previous = nil
	rc := s.requests[requestID]
	if rc == nil {
		rc = &requestContext{parentID: s.branches.ActiveID(), messages: s.branches.ActiveMessages()}
		s.requests[requestID] = rc
	}
	model := models.ComparisonModel{ID: prev.ModelID, Label: prev.Label, Provider: prev.Provider, Slot: prev.Slot}
	prompt := entry.Prompt
	res.Status = models.ResultStatusLoading
	s.retrying[resultID] = true
	s.mu.Unlock()
	s.emit(requestID, models.ComparisonStatusReady)

	resp, err := s.comparer.Compare(context.WithoutCancel(ctx), models.CompareRequest{
		Models:      compareInputs([]models.ComparisonModel{model}),
		Prompt:      prompt,
		XML:         rc.xml,
		Brief:       rc.brief,
		Attachments: rc.attachments,
	})
	var raw *models.CompareResult
	if err == nil && len(resp.Results) > 0 {
		raw = &resp.Results[0]
	}

	next := models.ComparisonResult{ModelID: prev.ModelID, Label: prev.Label, Provider: prev.Provider, Slot: prev.Slot}
	normalizeResult(&next, raw, err)
	// a fresh result gets its branch before the card is published
	if next.Status == models.ResultStatusOK {
		next.ID = uuid.New().String()
		next.BranchID = s.createBranch(requestID, next, rc)
	}

	s.mu.Lock()
	delete(s.retrying, resultID)
	entry = s.findLocked(requestID)
	if entry == nil {
		s.mu.Unlock()
		return nil, ErrEntryNotFound
	}
	res = findResult(entry, resultID)
	if res == nil {
		s.mu.Unlock()
		return nil, ErrResultNotFound
	}
	if next.Status != models.ResultStatusOK {
		next.ID = prev.ID
		next.BranchID = prev.BranchID
		if prev.Status == models.ResultStatusOK {
			next.Previous = &prev
		} else {
			next.Previous = lastSuccess
		}
	}
	*res = next
	s.mu.Unlock()

	if next.Status == models.ResultStatusOK {
		s.gate.Set(true)
	}
	s.emit(requestID, models.ComparisonStatusReady)
	return &next, nil
}

// ApplyResult adopts an ok result: it switches to the result's branch,
// materializing it first when needed, and clears the gate.
func (s *ComparisonService) ApplyResult(ctx context.Context, requestID, resultID string) (*models.Branch, error) {
	s.mu.Lock()
	entry := s.findLocked(requestID)
	if entry == nil {
		s.mu.Unlock()
		return nil, ErrEntryNotFound
	}
	res := findResult(entry, resultID)
	if res == nil {
		s.mu.Unlock()
		return nil, ErrResultNotFound
	}
	if entry.Status != models.ComparisonStatusReady {
		s.mu.Unlock()
		return nil, ErrComparisonLoading
	}
	if res.Status != models.ResultStatusOK || strings.TrimSpace(res.XML) == "" {
		s.mu.Unlock()
		return nil, ErrResultNotUsable
	}
	s.mu.Unlock()

	branchID, err := s.materialize(requestID, resultID)
	if err != nil {
		return nil, err
	}

	branch, err := s.switcher.SwitchBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if entry := s.findLocked(requestID); entry != nil {
		id := resultID
		entry.AdoptedResultID = &id
	}
	s.mu.Unlock()

	s.gate.Set(false)
	s.emit(requestID, models.ComparisonStatusReady)
	return branch, nil
}

// Dismiss resolves the decision without adopting a result.
func (s *ComparisonService) Dismiss(requestID string) error {
	s.mu.Lock()
	entry := s.findLocked(requestID)
	s.mu.Unlock()
	if entry == nil {
		return ErrEntryNotFound
	}
	s.gate.Set(false)
	s.emit(requestID, models.ComparisonStatusReady)
	return nil
}

// InFlight reports whether a comparison is still loading.
func (s *ComparisonService) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != ""
}

// Entry returns a copy of one entry, or nil.
func (s *ComparisonService) Entry(requestID string) *models.ComparisonEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findLocked(requestID); e != nil {
		return cloneEntry(e)
	}
	return nil
}

// History returns copies of all entries, oldest first.
func (s *ComparisonService) History() []*models.ComparisonEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.entries, func(e *models.ComparisonEntry, _ int) *models.ComparisonEntry {
		return cloneEntry(e)
	})
}

// RestoreHistory replaces the history with persisted entries. Entries that
// were still loading can never settle and become errors.
func (s *ComparisonService) RestoreHistory(entries []*models.ComparisonEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.requests = make(map[string]*requestContext)
	s.inFlight = ""
	for _, e := range entries {
		c := cloneEntry(e)
		if c.Status == models.ComparisonStatusLoading {
			c.Status = models.ComparisonStatusReady
			for i := range c.Results {
				if c.Results[i].Status == models.ResultStatusLoading {
					c.Results[i].Status = models.ResultStatusError
					c.Results[i].Error = "interrupted before the model answered"
				}
			}
		}
		s.entries = append(s.entries, c)
		s.seq = max(s.seq, c.Seq+1)
	}
}

// Reset drops the history; results still in flight are discarded.
func (s *ComparisonService) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.requests = make(map[string]*requestContext)
	s.inFlight = ""
	s.mu.Unlock()
	s.gate.Set(false)
}

func (s *ComparisonService) findLocked(requestID string) *models.ComparisonEntry {
	for _, e := range s.entries {
		if e.RequestID == requestID {
			return e
		}
	}
	return nil
}

func findResult(e *models.ComparisonEntry, resultID string) *models.ComparisonResult {
	for i := range e.Results {
		if e.Results[i].ID == resultID {
			return &e.Results[i]
		}
	}
	return nil
}

func cloneEntry(e *models.ComparisonEntry) *models.ComparisonEntry {
	c := *e
	c.Badges = slices.Clone(e.Badges)
	c.Models = slices.Clone(e.Models)
	c.Results = slices.Clone(e.Results)
	for i := range c.Results {
		if p := c.Results[i].Previous; p != nil {
			pc := *p
			c.Results[i].Previous = &pc
		}
	}
	c.AnchorMessageID = cloneString(e.AnchorMessageID)
	c.AdoptedResultID = cloneString(e.AdoptedResultID)
	return &c
}
