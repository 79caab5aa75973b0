package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/models"
)

type sessionFixture struct {
	gen     *fakeGenerator
	canvas  *fakeCanvas
	deps    SessionDeps
	session *Session
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	dir := t.TempDir()
	quickActions, err := NewQuickActionService(filepath.Join(dir, "quick_actions.json"))
	require.NoError(t, err)
	templates, err := NewTemplateService(filepath.Join(dir, "templates.json"))
	require.NoError(t, err)

	gen := newFakeGenerator()
	canvas := &fakeCanvas{}
	deps := SessionDeps{
		Generator:     gen,
		Comparer:      NewCompareService(gen),
		QuickActions:  quickActions,
		Templates:     templates,
		ExportTimeout: time.Second,
		NewCanvas:     func(string) Canvas { return canvas },
	}
	return &sessionFixture{gen: gen, canvas: canvas, deps: deps, session: NewSession("s1", "", deps)}
}

func displayArgs(t *testing.T, cells string) string {
	return toolArgs(t, map[string]string{"xml": cells})
}

// drawTurn scripts one chat turn that displays cells and then answers.
func (f *sessionFixture) drawTurn(t *testing.T, text, cells string) *ChatTurn {
	t.Helper()
	f.gen.script("default", toolReply("drawing", "display_diagram", displayArgs(t, cells)), textReply("done"))
	turn, err := f.session.SubmitMessage(context.Background(), SubmitInput{Text: text})
	require.NoError(t, err)
	return turn
}

func TestSubmitMessageRunsToolLoop(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session

	turn := f.drawTurn(t, "draw node A", cellA)
	require.Len(t, turn.Messages, 4)
	roles := []string{turn.Messages[0].Role, turn.Messages[1].Role, turn.Messages[2].Role, turn.Messages[3].Role}
	assert.Equal(t, []string{models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant}, roles)

	assistant := turn.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "display_diagram", assistant.ToolCalls[0].Name)
	require.NotNil(t, assistant.DiagramXML)
	assert.Equal(t, mustMerge(cellA), *assistant.DiagramXML)
	assert.Equal(t, "call-display_diagram", turn.Messages[2].ToolCallID)
	assert.Equal(t, "Diagram applied.", turn.Messages[2].Content)
	assert.Nil(t, turn.Messages[3].DiagramXML)

	require.NotNil(t, turn.Outcome)
	assert.True(t, turn.Outcome.Committed)
	assert.Equal(t, mustMerge(cellA), s.Diagram.Latest())
	assert.Equal(t, 1, f.canvas.loadCount())

	assert.Equal(t, "draw node A", s.Title())
	assert.Len(t, s.Messages(), 4)
	assert.Len(t, s.Branches.ActiveMessages(), 4)
	assert.Equal(t, mustMerge(cellA), *s.Branches.Active().DiagramXML)

	// first call sees the committed document, second sees the tool result
	require.Equal(t, 2, f.gen.callCount())
	first := f.gen.calls[0]
	assert.Equal(t, ChatSystemPrompt, first.SystemPrompt)
	assert.NotEmpty(t, first.Tools)
	assert.Contains(t, first.Messages[0].Content, "draw node A")
	assert.Contains(t, first.Messages[0].Content, diagram.EmptyDocument)
	second := f.gen.calls[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "Diagram applied.", last.Content)
}

func TestSubmitMessageRejectsEmptyAndGated(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session
	ctx := context.Background()

	_, err := s.SubmitMessage(ctx, SubmitInput{Text: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)

	f.drawTurn(t, "draw a box", cellA)
	messages := s.Messages()
	branches := len(s.Branches.Branches())
	latest := s.Diagram.Latest()
	loads := f.canvas.loadCount()
	calls := f.gen.callCount()

	s.Gate.Set(true)
	_, err = s.SubmitMessage(ctx, SubmitInput{Text: "hello"})
	require.ErrorIs(t, err, ErrBranchDecisionPending)
	_, err = s.RunQuickAction(ctx, "polish", "")
	require.ErrorIs(t, err, ErrBranchDecisionPending)
	_, err = s.ApplyTemplate(ctx, "flowchart-basic")
	require.ErrorIs(t, err, ErrBranchDecisionPending)
	_, err = s.Calibrate(ctx, "")
	require.ErrorIs(t, err, ErrBranchDecisionPending)

	assert.Equal(t, messages, s.Messages())
	assert.Len(t, s.Branches.Branches(), branches)
	assert.Equal(t, latest, s.Diagram.Latest())
	assert.Equal(t, loads, f.canvas.loadCount())
	assert.Equal(t, calls, f.gen.callCount())
}

func TestSubmitMessageUnknownModel(t *testing.T) {
	f := newSessionFixture(t)
	f.gen.unknown["ghost"] = true
	_, err := f.session.SubmitMessage(context.Background(), SubmitInput{Text: "hi", ModelID: "ghost"})
	require.ErrorIs(t, err, ErrNoModels)
	assert.Empty(t, f.session.Messages())
}

func TestQuickActionAndCalibrate(t *testing.T) {
	f := newSessionFixture(t)
	f.gen.fn = func(GenerateRequest) (*schema.Message, error) {
		return schema.AssistantMessage("ok", nil), nil
	}
	ctx := context.Background()

	turn, err := f.session.RunQuickAction(ctx, "polish", "m1")
	require.NoError(t, err)
	action, err := f.deps.QuickActions.Get("polish")
	require.NoError(t, err)
	assert.Equal(t, action.Prompt, turn.Messages[0].Content)
	assert.Equal(t, "m1", f.gen.calls[0].ModelID)

	turn, err = f.session.Calibrate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, CalibrationPrompt, turn.Messages[0].Content)

	_, err = f.session.RunQuickAction(ctx, "missing", "")
	require.ErrorIs(t, err, ErrQuickActionNotFound)
}

func TestApplyTemplate(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	out, err := f.session.ApplyTemplate(ctx, "flowchart-basic")
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.False(t, out.Repaired)
	assert.Equal(t, 1, f.canvas.loadCount())

	_, err = f.session.ApplyTemplate(ctx, "missing")
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRevertForkAndSwitch(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session
	ctx := context.Background()
	rootID := s.Branches.ActiveID()

	f.drawTurn(t, "draw A", cellA)
	f.drawTurn(t, "add B", cellA+cellB)
	full := s.Diagram.Latest()
	require.Equal(t, mustMerge(cellA+cellB), full)
	require.Len(t, s.Messages(), 8)

	_, err := s.Revert(ctx, 9)
	require.ErrorIs(t, err, ErrMessageIndex)

	reverted, err := s.Revert(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Revert to message 4", reverted.Label)
	assert.Equal(t, models.BranchTypeHistory, reverted.Meta.Type)
	assert.Equal(t, rootID, *reverted.ParentID)
	assert.Equal(t, reverted.ID, s.Branches.ActiveID())
	assert.Len(t, s.Messages(), 4)
	assert.Equal(t, mustMerge(cellA), s.Diagram.Latest())
	// the original line keeps its full history
	assert.Len(t, s.Branches.Get(rootID).Messages, 8)

	fork, err := s.Fork(" side ")
	require.NoError(t, err)
	assert.Equal(t, "side", fork.Label)
	assert.Equal(t, reverted.ID, *fork.ParentID)
	assert.Equal(t, mustMerge(cellA), *fork.DiagramXML)
	assert.Len(t, s.Messages(), 4)

	back, err := s.SwitchBranch(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, rootID, back.ID)
	assert.Len(t, s.Messages(), 8)
	assert.Equal(t, full, s.Diagram.Latest())

	_, err = s.SwitchBranch(ctx, "missing")
	require.ErrorIs(t, err, ErrBranchNotFound)
	assert.Equal(t, rootID, s.Branches.ActiveID())
}

func TestRevertWithoutSnapshotKeepsCanvas(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session
	f.drawTurn(t, "draw A", cellA)
	loads := f.canvas.loadCount()

	_, err := s.Revert(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, s.Messages())
	assert.Equal(t, mustMerge(cellA), s.Diagram.Latest())
	assert.Equal(t, loads, f.canvas.loadCount())
}

func TestSessionComparisonFlow(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session
	ctx := context.Background()
	f.drawTurn(t, "draw A", cellA)
	anchor := s.Messages()[3].ID

	f.gen.script("m1", compareReply("only B", cellB))
	f.gen.script("m2", compareReply("both", cellA+cellB))
	entry, done, err := s.StartComparison(ctx, models.ComparisonRequest{
		Prompt: "try alternatives",
		Models: []models.ComparisonModel{{ID: "m1"}, {ID: "m2"}},
	})
	require.NoError(t, err)
	require.NotNil(t, entry.AnchorMessageID)
	assert.Equal(t, anchor, *entry.AnchorMessageID)
	<-done

	assert.True(t, s.State().RequiresBranchDecision)
	_, err = s.SubmitMessage(ctx, SubmitInput{Text: "more"})
	require.ErrorIs(t, err, ErrBranchDecisionPending)

	got := s.Comparisons.Entry(entry.RequestID)
	require.Equal(t, models.ResultStatusOK, got.Results[0].Status)
	for _, call := range f.gen.calls[len(f.gen.calls)-2:] {
		assert.Contains(t, call.Messages[0].Content, mustMerge(cellA))
	}

	branch, err := s.Comparisons.ApplyResult(ctx, entry.RequestID, got.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, s.Branches.ActiveID())
	assert.Equal(t, mustMerge(cellB), s.Diagram.Latest())
	assert.Len(t, s.Messages(), 4)
	assert.False(t, s.Gate.Requires())
}

func TestClearResetsEverything(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session
	ctx := context.Background()
	f.drawTurn(t, "draw A", cellA)
	_, err := s.Fork("side")
	require.NoError(t, err)
	s.Gate.Set(true)

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.Messages())
	assert.Len(t, s.Branches.Branches(), 1)
	assert.Equal(t, diagram.EmptyDocument, s.Diagram.Latest())
	assert.Equal(t, diagram.EmptyDocument, f.canvas.lastLoad())
	assert.False(t, s.Gate.Requires())
	assert.Empty(t, s.Comparisons.History())

	state := s.State()
	assert.Equal(t, "s1", state.ID)
	assert.Equal(t, -1, state.Diagram.ActiveVersionIndex)
}

func TestSnapshotRestoreSession(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session
	f.drawTurn(t, "draw A", cellA)
	_, err := s.Fork("side")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, s.Branches.ActiveID(), snap.Record.ActiveBranchID)
	assert.Equal(t, mustMerge(cellA), snap.Record.LatestXML)

	restored, err := RestoreSession(snap, f.deps)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, "draw A", restored.Title())
	assert.Equal(t, s.Messages(), restored.Messages())
	assert.Equal(t, s.Diagram.Latest(), restored.Diagram.Latest())
	assert.Equal(t, s.Branches.ActiveID(), restored.Branches.ActiveID())
	// restore leaves the canvas alone
	assert.Equal(t, 1, f.canvas.loadCount())
}
