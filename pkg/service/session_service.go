package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/tools"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

var (
	ErrEmptyMessage        = errors.New("message must not be empty")
	ErrQuickActionNotFound = errors.New("quick action not found")
	ErrTemplateNotFound    = errors.New("template not found")
)

// maxToolRounds bounds the generate / tool call loop of one chat turn.
const maxToolRounds = 4

const titleLength = 40

// QuickActionSource looks up quick actions by id.
type QuickActionSource interface {
	Get(id string) (*models.QuickAction, error)
}

// TemplateSource looks up diagram templates by id.
type TemplateSource interface {
	Get(id string) (*models.DiagramTemplate, error)
}

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Generator     Generator
	Comparer      Comparer
	Tools         *tools.Registry
	QuickActions  QuickActionSource
	Templates     TemplateSource
	Emitter       *event.Emitter
	ExportTimeout time.Duration

	// NewCanvas builds the canvas bridge of a session. Nil selects the
	// WebSocket event canvas.
	NewCanvas func(sessionID string) Canvas
}

// SubmitInput is one user turn.
type SubmitInput struct {
	Text        string
	ModelID     string
	Attachments []models.Attachment
}

// ChatTurn is what a chat turn appended to the transcript.
type ChatTurn struct {
	Messages []models.Message     `json:"messages"`
	Outcome  *models.ApplyOutcome `json:"outcome,omitempty"` // last diagram apply of the turn
}

// Session is the root scope of one editor session. It owns the branch
// manager, the diagram orchestrator, the canvas bridge, the comparison
// orchestrator and the decision gate, and holds the live transcript.
type Session struct {
	ID string

	Branches    *BranchService
	Canvas      *CanvasService
	Diagram     *DiagramService
	Comparisons *ComparisonService
	Gate        *DecisionGate

	gen          Generator
	registry     *tools.Registry
	quickActions QuickActionSource
	templates    TemplateSource
	emitter      *event.Emitter
	logger       *slog.Logger

	// turnMu serializes chat turns and branch moves so a turn never writes
	// its messages into a branch it did not start on.
	turnMu sync.Mutex

	mu        sync.RWMutex
	title     string
	messages  []models.Message
	createdAt time.Time
}

// NewSession builds a session with an empty document on a fresh root branch.
func NewSession(id, title string, deps SessionDeps) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	var canvas Canvas
	if deps.NewCanvas != nil {
		canvas = deps.NewCanvas(id)
	} else {
		canvas = NewEventCanvas(id, deps.Emitter)
	}
	registry := deps.Tools
	if registry == nil {
		registry = tools.NewRegistry()
	}

	s := &Session{
		ID:           id,
		gen:          deps.Generator,
		registry:     registry,
		quickActions: deps.QuickActions,
		templates:    deps.Templates,
		emitter:      deps.Emitter,
		logger:       utils.GetLogger().With("session", id),
		title:        title,
		messages:     []models.Message{},
		createdAt:    time.Now(),
	}
	s.Branches = NewBranchService(id, deps.Emitter)
	s.Canvas = NewCanvasService(id, canvas, deps.ExportTimeout, deps.Emitter)
	s.Diagram = NewDiagramService(id, s.Canvas, s.Branches, NewRepairService(deps.Generator), deps.Emitter)
	s.Gate = NewDecisionGate(id, deps.Emitter)
	s.Comparisons = NewComparisonService(id, deps.Comparer, s.Branches, s.Gate, s, deps.Emitter)
	return s
}

func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.title = strings.TrimSpace(title)
	s.mu.Unlock()
}

// Messages returns a copy of the live transcript.
func (s *Session) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// setMessages replaces the live transcript without touching branches.
func (s *Session) setMessages(messages []models.Message) {
	s.mu.Lock()
	s.messages = slices.Clone(messages)
	if s.messages == nil {
		s.messages = []models.Message{}
	}
	n := len(s.messages)
	s.mu.Unlock()
	s.emitMessages(n)
}

// appendMessages extends the live transcript and mirrors it into the
// active branch.
func (s *Session) appendMessages(msgs ...models.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	if s.title == "" {
		for _, m := range msgs {
			if m.Role == models.RoleUser && strings.TrimSpace(m.Content) != "" {
				s.title = utils.Truncate(strings.TrimSpace(m.Content), titleLength)
				break
			}
		}
	}
	snapshot := slices.Clone(s.messages)
	s.mu.Unlock()

	s.Branches.UpdateActiveBranchMessages(snapshot)
	s.emitMessages(len(snapshot))
}

func (s *Session) emitMessages(n int) {
	if s.emitter != nil {
		s.emitter.Emit(event.MessagesChangedEvent{Session: s.ID, Count: n})
	}
}

// ========== Gated entry points ==========

// SubmitMessage appends a user message and runs one chat turn. The model
// drives the canvas through the diagram tools.
func (s *Session) SubmitMessage(ctx context.Context, in SubmitInput) (*ChatTurn, error) {
	if err := s.Gate.Check(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	resolved, err := s.gen.Resolve(in.ModelID)
	if err != nil {
		return nil, err
	}
	user := models.Message{
		ID:          uuid.New().String(),
		Role:        models.RoleUser,
		Content:     in.Text,
		Attachments: slices.Clone(in.Attachments),
		CreatedAt:   time.Now(),
	}
	s.appendMessages(user)

	turn, err := s.runTurn(ctx, resolved.ID)
	turn.Messages = append([]models.Message{user}, turn.Messages...)
	if err != nil {
		s.logger.Warn("chat turn failed", "model", resolved.ID, "error", err)
		return turn, err
	}
	return turn, nil
}

// runTurn calls the model until it answers without tool calls. Every round
// is appended to the transcript as soon as its tools have run.
func (s *Session) runTurn(ctx context.Context, modelID string) (*ChatTurn, error) {
	turn := &ChatTurn{}

	var committed *string
	tc := tools.NewToolContext(s.Diagram).WithModel(modelID)
	tc.OnCommit = func(xml string) { committed = &xml }
	toolset, err := s.registry.Toolset(ctx, tc)
	if err != nil {
		return turn, err
	}

	history := s.chatHistory()
	for round := 0; round < maxToolRounds; round++ {
		reply, err := s.gen.Generate(ctx, GenerateRequest{
			ModelID:      modelID,
			SystemPrompt: ChatSystemPrompt,
			Messages:     history,
			Tools:        toolset.Infos(),
		})
		if err != nil {
			return turn, err
		}
		if reply == nil {
			return turn, fmt.Errorf("generate with %s: empty reply", modelID)
		}
		history = append(history, reply)

		assistant := models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   reply.Content,
			CreatedAt: time.Now(),
		}
		var results []models.Message
		committed = nil
		for _, call := range reply.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, models.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
			out, err := toolset.Invoke(ctx, call)
			if err != nil {
				out = fmt.Sprintf("Error: %v", err)
			}
			history = append(history, schema.ToolMessage(out, call.ID))
			results = append(results, models.Message{
				ID:         uuid.New().String(),
				Role:       models.RoleTool,
				Content:    out,
				ToolCallID: call.ID,
				CreatedAt:  time.Now(),
			})
		}
		if committed != nil {
			assistant.DiagramXML = committed
			turn.Outcome = &models.ApplyOutcome{Committed: true, XML: *committed, Repair: s.Diagram.RepairState()}
		}

		batch := append([]models.Message{assistant}, results...)
		s.appendMessages(batch...)
		turn.Messages = append(turn.Messages, batch...)
		if len(reply.ToolCalls) == 0 {
			return turn, nil
		}
	}
	s.logger.Warn("chat turn stopped after tool round limit", "model", modelID, "rounds", maxToolRounds)
	return turn, nil
}

// chatHistory converts the live transcript to model messages. The last user
// message carries the committed document.
func (s *Session) chatHistory() []*schema.Message {
	msgs := s.Messages()
	lastUser := -1
	for i, m := range msgs {
		if m.Role == models.RoleUser {
			lastUser = i
		}
	}

	out := make([]*schema.Message, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			text := m.Content
			if i == lastUser {
				text = BuildChatContext(text, s.Diagram.Latest())
			}
			out = append(out, UserMessage(text, m.Attachments))
		case models.RoleAssistant:
			am := &schema.Message{Role: schema.Assistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, schema.ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			out = append(out, am)
		case models.RoleTool:
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		case models.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		}
	}
	return out
}

// RunQuickAction submits the prompt of a quick action.
func (s *Session) RunQuickAction(ctx context.Context, id, modelID string) (*ChatTurn, error) {
	if err := s.Gate.Check(); err != nil {
		return nil, err
	}
	if s.quickActions == nil {
		return nil, ErrQuickActionNotFound
	}
	action, err := s.quickActions.Get(id)
	if err != nil {
		return nil, err
	}
	return s.SubmitMessage(ctx, SubmitInput{Text: action.Prompt, ModelID: modelID})
}

// Calibrate asks the model to re-layout the current diagram.
func (s *Session) Calibrate(ctx context.Context, modelID string) (*ChatTurn, error) {
	return s.SubmitMessage(ctx, SubmitInput{Text: CalibrationPrompt, ModelID: modelID})
}

// ApplyTemplate merges a template into the document. Templates are trusted
// content and never go through repair.
func (s *Session) ApplyTemplate(ctx context.Context, id string) (*models.ApplyOutcome, error) {
	if err := s.Gate.Check(); err != nil {
		return nil, err
	}
	if s.templates == nil {
		return nil, ErrTemplateNotFound
	}
	tpl, err := s.templates.Get(id)
	if err != nil {
		return nil, err
	}
	noRepair := false
	return s.Diagram.ApplyCandidate(ctx, tpl.XML, models.UpdateMeta{
		Origin:              models.OriginDisplay,
		AllowRepairFallback: &noRepair,
	})
}

// StartComparison starts a comparison anchored at the last message.
func (s *Session) StartComparison(ctx context.Context, req models.ComparisonRequest) (*models.ComparisonEntry, <-chan struct{}, error) {
	var anchor *string
	if msgs := s.Messages(); len(msgs) > 0 {
		id := msgs[len(msgs)-1].ID
		anchor = &id
	}
	return s.Comparisons.Start(ctx, StartComparisonInput{
		Prompt:            req.Prompt,
		Models:            req.Models,
		CurrentDiagramXML: s.Diagram.Latest(),
		Brief:             req.Brief,
		Badges:            req.Badges,
		Attachments:       req.Attachments,
		AnchorMessageID:   anchor,
	})
}

// ========== Branch moves ==========

// ApplyDiagram commits a document supplied directly by the user.
func (s *Session) ApplyDiagram(ctx context.Context, xml string) (*models.ApplyOutcome, error) {
	return s.Diagram.ApplyCandidate(ctx, xml, models.UpdateMeta{Origin: models.OriginDisplay})
}

// Revert keeps the first index messages on a new history branch under the
// current one and makes it live. The canvas goes back to the last document
// committed within the kept messages, if any.
func (s *Session) Revert(ctx context.Context, index int) (*models.Branch, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	msgs := s.Messages()
	if index < 0 || index > len(msgs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrMessageIndex, index, len(msgs))
	}
	seed := msgs[:index]
	var snapshot *string
	for i := len(seed) - 1; i >= 0; i-- {
		if seed[i].DiagramXML != nil {
			snapshot = cloneString(seed[i].DiagramXML)
			break
		}
	}

	branch := s.Branches.CreateBranch(models.CreateBranchOptions{
		ParentID:     s.Branches.ActiveID(),
		Label:        fmt.Sprintf("Revert to message %d", index),
		DiagramXML:   snapshot,
		Meta:         models.BranchMeta{Type: models.BranchTypeHistory},
		SeedMessages: nonNilMessages(seed),
	})
	if branch == nil {
		return nil, ErrNoActiveBranch
	}
	s.setMessages(seed)
	if snapshot != nil {
		if _, err := s.Diagram.LoadDocument(ctx, *snapshot); err != nil {
			s.logger.Warn("revert: stored document not loaded", "branch_id", branch.ID, "error", err)
		}
	}
	return s.Branches.Get(branch.ID), nil
}

// Fork creates a manual branch from the active one and switches to it.
// The transcript and canvas are unchanged.
func (s *Session) Fork(label string) (*models.Branch, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	latest := s.Diagram.Latest()
	branch := s.Branches.CreateBranch(models.CreateBranchOptions{
		ParentID:   s.Branches.ActiveID(),
		Label:      strings.TrimSpace(label),
		DiagramXML: &latest,
		Meta:       models.BranchMeta{Type: models.BranchTypeManual},
	})
	if branch == nil {
		return nil, ErrNoActiveBranch
	}
	return branch, nil
}

// SwitchBranch activates a branch and re-applies its messages and diagram.
// A branch without a diagram snapshot keeps the current canvas.
func (s *Session) SwitchBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	branch := s.Branches.SwitchBranch(branchID)
	if branch == nil {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
	}
	s.setMessages(branch.Messages)

	if branch.DiagramXML != nil {
		if _, err := s.Diagram.LoadDocument(ctx, *branch.DiagramXML); err != nil {
			var vf *ValidationFailure
			if !errors.As(err, &vf) {
				return nil, err
			}
			// comparison candidates are cell fragments
			outcome, err := s.Diagram.ApplyCandidate(ctx, *branch.DiagramXML, models.UpdateMeta{Origin: models.OriginDisplay})
			if err != nil {
				return nil, err
			}
			if !outcome.Committed {
				s.logger.Warn("switch branch: diagram not applied", "branch_id", branchID)
			}
		}
	}
	return s.Branches.Get(branchID), nil
}

// Clear resets the session: root branch only, empty transcript, empty
// document, no versions and no comparisons.
func (s *Session) Clear(ctx context.Context) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.Comparisons.Reset()
	s.Branches.ResetActiveBranch()
	s.setMessages(nil)
	s.Canvas.Reset()
	s.Gate.Set(false)
	return s.Diagram.Reset(ctx)
}

// ========== Canvas ==========

// RequestExport asks the canvas for an export and records it as a version.
func (s *Session) RequestExport(ctx context.Context) (models.DiagramVersion, int, error) {
	return s.Canvas.SaveVersion(ctx)
}

// HandleExport resolves a pending export request.
func (s *Session) HandleExport(requestID string, result models.ExportResult) error {
	return s.Canvas.ResolveExport(requestID, result)
}

// RestoreVersion loads a recorded version back onto the canvas.
func (s *Session) RestoreVersion(ctx context.Context, index int) (*models.ApplyOutcome, error) {
	v, err := s.Canvas.Version(index)
	if err != nil {
		return nil, err
	}
	outcome, err := s.Diagram.LoadDocument(ctx, v.XML)
	if err != nil {
		return outcome, err
	}
	if err := s.Canvas.SetActiveVersion(index); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// HandleRuntimeError forwards a canvas load failure to the orchestrator.
func (s *Session) HandleRuntimeError(ctx context.Context, rerr models.RuntimeError) (*models.ApplyOutcome, error) {
	return s.Diagram.HandleRuntimeError(ctx, rerr)
}

// ========== State ==========

// State returns the serializable view of the session.
func (s *Session) State() models.SessionState {
	versions, active := s.Canvas.Versions()
	return models.SessionState{
		ID:       s.ID,
		Title:    s.Title(),
		Messages: s.Messages(),
		Branches: s.Branches.Tree(),
		Diagram: models.DiagramState{
			LatestXML:          s.Diagram.Latest(),
			Pending:            s.Diagram.Pending(),
			Repair:             s.Diagram.RepairState(),
			Versions:           versions,
			ActiveVersionIndex: active,
		},
		Comparisons:            s.Comparisons.History(),
		RequiresBranchDecision: s.Gate.Requires(),
	}
}

// SessionSnapshot is the persisted form of a session.
type SessionSnapshot struct {
	Record      models.SessionRecord
	Branches    BranchSnapshot
	Comparisons []*models.ComparisonEntry
}

// Snapshot captures the session for persistence. The live transcript is
// the active branch's messages and is not stored separately.
func (s *Session) Snapshot() *SessionSnapshot {
	branches := s.Branches.Snapshot()
	versions, active := s.Canvas.Versions()
	s.mu.RLock()
	record := models.SessionRecord{
		ID:                     s.ID,
		Title:                  s.title,
		ActiveBranchID:         branches.ActiveBranchID,
		LatestXML:              s.Diagram.Latest(),
		RequiresBranchDecision: s.Gate.Requires(),
		Versions:               versions,
		ActiveVersionIndex:     active,
		CreatedAt:              s.createdAt,
		UpdatedAt:              time.Now(),
	}
	s.mu.RUnlock()
	return &SessionSnapshot{
		Record:      record,
		Branches:    branches,
		Comparisons: s.Comparisons.History(),
	}
}

// RestoreSession rebuilds a session from a snapshot without touching the
// canvas; the widget loads the document when it attaches.
func RestoreSession(snap *SessionSnapshot, deps SessionDeps) (*Session, error) {
	s := NewSession(snap.Record.ID, snap.Record.Title, deps)
	if err := s.Branches.Restore(snap.Branches); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.messages = s.Branches.ActiveMessages()
	if !snap.Record.CreatedAt.IsZero() {
		s.createdAt = snap.Record.CreatedAt
	}
	s.mu.Unlock()
	s.Diagram.Restore(snap.Record.LatestXML)
	s.Canvas.RestoreHistory(snap.Record.Versions, snap.Record.ActiveVersionIndex)
	s.Comparisons.RestoreHistory(snap.Comparisons)
	s.Gate.Set(snap.Record.RequiresBranchDecision)
	return s, nil
}
