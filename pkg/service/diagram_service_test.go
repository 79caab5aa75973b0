package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/models"
)

func newTestDiagramService(repairer Repairer) (*DiagramService, *fakeCanvas, *snapshotRecorder) {
	canvas := &fakeCanvas{}
	snaps := &snapshotRecorder{}
	return NewDiagramService("s1", canvas, snaps, repairer, nil), canvas, snaps
}

func noFallback() *bool {
	v := false
	return &v
}

func TestApplyCandidateCommitsValidDocument(t *testing.T) {
	svc, canvas, snaps := newTestDiagramService(&fakeRepairer{})

	out, err := svc.ApplyCandidate(context.Background(), cellA, models.UpdateMeta{Origin: models.OriginDisplay, ModelRuntime: "m1"})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.False(t, out.Repaired)
	require.Equal(t, mustMerge(cellA), svc.Latest())
	require.Equal(t, svc.Latest(), canvas.lastLoad())
	require.Equal(t, svc.Latest(), snaps.last)
	require.Equal(t, models.RepairIdle, svc.RepairState().Status)

	pending := svc.Pending()
	require.NotNil(t, pending)
	require.Equal(t, models.OriginDisplay, pending.Origin)
	require.Equal(t, "m1", pending.ModelRuntime)
}

func TestApplyCandidateIsIdempotent(t *testing.T) {
	svc, _, _ := newTestDiagramService(&fakeRepairer{})
	ctx := context.Background()

	_, err := svc.ApplyCandidate(ctx, cellA+cellB, models.UpdateMeta{})
	require.NoError(t, err)
	first := svc.Latest()
	_, err = svc.ApplyCandidate(ctx, cellA+cellB, models.UpdateMeta{})
	require.NoError(t, err)
	require.Equal(t, first, svc.Latest())
}

func TestApplyCandidateWithoutFallbackRejects(t *testing.T) {
	repairer := &fakeRepairer{}
	svc, canvas, snaps := newTestDiagramService(repairer)

	out, err := svc.ApplyCandidate(context.Background(), cellA+dangling, models.UpdateMeta{AllowRepairFallback: noFallback()})
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.Equal(t, diagram.CodeDanglingEdge, vf.Errors[0].Code)
	require.False(t, out.Committed)
	require.Equal(t, diagram.EmptyDocument, out.XML)
	require.Zero(t, canvas.loadCount())
	require.Zero(t, snaps.n)
	require.Zero(t, repairer.count())
	require.Equal(t, diagram.EmptyDocument, svc.Latest())
}

func TestApplyCandidateRepairsWithDisplay(t *testing.T) {
	repairer := &fakeRepairer{result: &models.RepairResult{
		Strategy: models.RepairStrategyDisplay,
		XML:      cellA + cellB + edgeAB,
		Notes:    "dropped the dangling edge",
	}}
	svc, canvas, _ := newTestDiagramService(repairer)

	out, err := svc.ApplyCandidate(context.Background(), cellA+dangling, models.UpdateMeta{ModelRuntime: "m1"})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.True(t, out.Repaired)
	require.Equal(t, mustMerge(cellA+cellB+edgeAB), svc.Latest())
	require.Equal(t, 1, canvas.loadCount())

	st := svc.RepairState()
	require.Equal(t, models.RepairIdle, st.Status)
	require.Len(t, st.Notes, 1)
	require.True(t, strings.HasPrefix(st.Notes[0], repairedDisplayNote))
	require.Contains(t, st.Notes[0], "dropped the dangling edge")

	require.Equal(t, 1, repairer.count())
	req := repairer.requests[0]
	require.Contains(t, req.InvalidXML, `target="ghost"`)
	require.Equal(t, diagram.EmptyDocument, req.CurrentXML)
	require.Contains(t, req.ErrorContext, string(diagram.CodeDanglingEdge))
	require.Equal(t, "m1", req.ModelRuntime)
	require.Equal(t, models.OriginRepair, svc.Pending().Origin)
}

func TestApplyCandidateRepairsWithEdits(t *testing.T) {
	repairer := &fakeRepairer{result: &models.RepairResult{
		Strategy: models.RepairStrategyEdit,
		Edits:    []models.TextEdit{{Search: `target="ghost"`, Replace: `target="b"`}},
	}}
	svc, _, _ := newTestDiagramService(repairer)

	out, err := svc.ApplyCandidate(context.Background(), cellA+cellB+dangling, models.UpdateMeta{})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Contains(t, svc.Latest(), `target="b"`)
	require.NotContains(t, svc.Latest(), "ghost")
	require.Equal(t, []string{repairedEditNote}, svc.RepairState().Notes)
}

func TestApplyCandidateRepairFailureKeepsCanvas(t *testing.T) {
	repairer := &fakeRepairer{err: ErrRepairMalformed}
	svc, canvas, _ := newTestDiagramService(repairer)
	ctx := context.Background()

	_, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{})
	require.NoError(t, err)
	good := svc.Latest()

	out, err := svc.ApplyCandidate(ctx, cellA+dangling, models.UpdateMeta{})
	require.NoError(t, err)
	require.False(t, out.Committed)
	require.Equal(t, good, out.XML)
	require.Equal(t, good, svc.Latest())
	require.Equal(t, 1, canvas.loadCount())

	st := svc.RepairState()
	require.Equal(t, models.RepairFailed, st.Status)
	require.True(t, strings.HasPrefix(st.Message, ErrRepairExhausted.Error()))
	require.Equal(t, repairFailedNotes, st.Notes)
	require.Equal(t, 1, repairer.count())

	// a later commit does not hide the failure
	out, err = svc.ApplyCandidate(ctx, cellB, models.UpdateMeta{})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Equal(t, models.RepairFailed, svc.RepairState().Status)
}

func TestApplyCandidateInvalidRepairIsRejected(t *testing.T) {
	repairer := &fakeRepairer{result: &models.RepairResult{Strategy: models.RepairStrategyDisplay, XML: cellA + dangling}}
	svc, canvas, _ := newTestDiagramService(repairer)

	out, err := svc.ApplyCandidate(context.Background(), dangling, models.UpdateMeta{})
	require.NoError(t, err)
	require.False(t, out.Committed)
	require.Zero(t, canvas.loadCount())
	require.Equal(t, models.RepairFailed, svc.RepairState().Status)
}

func TestApplyEdits(t *testing.T) {
	svc, _, _ := newTestDiagramService(&fakeRepairer{err: ErrRepairMalformed})
	ctx := context.Background()
	_, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{})
	require.NoError(t, err)

	out, err := svc.ApplyEdits(ctx, []models.TextEdit{{Search: `value="A"`, Replace: `value="Renamed"`}}, models.UpdateMeta{ModelRuntime: "m1"})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Contains(t, svc.Latest(), `value="Renamed"`)
	require.Equal(t, models.OriginEdit, svc.Pending().Origin)

	before := svc.Latest()
	out, err = svc.ApplyEdits(ctx, []models.TextEdit{{Search: `value="missing"`, Replace: "x"}}, models.UpdateMeta{AllowRepairFallback: noFallback()})
	var editErr *diagram.EditError
	require.ErrorAs(t, err, &editErr)
	require.Zero(t, editErr.Count)
	require.False(t, out.Committed)
	require.Equal(t, before, svc.Latest())
}

func TestApplyEditsFailureRoutesToRepair(t *testing.T) {
	repairer := &fakeRepairer{result: &models.RepairResult{
		Strategy: models.RepairStrategyEdit,
		Edits:    []models.TextEdit{{Search: `value="A"`, Replace: `value="Fixed"`}},
	}}
	svc, _, _ := newTestDiagramService(repairer)
	ctx := context.Background()
	_, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{})
	require.NoError(t, err)

	out, err := svc.ApplyEdits(ctx, []models.TextEdit{{Search: `value="nope"`, Replace: "x"}}, models.UpdateMeta{})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Contains(t, svc.Latest(), `value="Fixed"`)
	require.Equal(t, repairer.requests[0].InvalidXML, repairer.requests[0].CurrentXML)
}

func TestHandleRuntimeError(t *testing.T) {
	t.Run("nothing pending", func(t *testing.T) {
		repairer := &fakeRepairer{}
		svc, _, _ := newTestDiagramService(repairer)

		out, err := svc.HandleRuntimeError(context.Background(), models.RuntimeError{Message: "boom"})
		require.NoError(t, err)
		require.False(t, out.Committed)
		require.Equal(t, models.RepairFailed, svc.RepairState().Status)
		require.Contains(t, svc.RepairState().Message, "boom")
		require.Zero(t, repairer.count())
	})

	t.Run("pending display is repaired once", func(t *testing.T) {
		repairer := &fakeRepairer{result: &models.RepairResult{Strategy: models.RepairStrategyDisplay, XML: cellB}}
		svc, canvas, _ := newTestDiagramService(repairer)
		ctx := context.Background()
		_, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{ModelRuntime: "m1"})
		require.NoError(t, err)

		out, err := svc.HandleRuntimeError(ctx, models.RuntimeError{Message: "cannot render"})
		require.NoError(t, err)
		require.True(t, out.Committed)
		require.Equal(t, mustMerge(cellB), svc.Latest())
		require.Equal(t, 2, canvas.loadCount())
		require.Equal(t, 1, repairer.count())
		require.Contains(t, repairer.requests[0].ErrorContext, "cannot render")
		require.Equal(t, "m1", repairer.requests[0].ModelRuntime)

		// the repaired document failing too ends in failed without a second repair
		out, err = svc.HandleRuntimeError(ctx, models.RuntimeError{Message: "still broken"})
		require.NoError(t, err)
		require.False(t, out.Committed)
		require.Equal(t, models.RepairFailed, svc.RepairState().Status)
		require.Equal(t, 1, repairer.count())
		// the document shown before the candidate comes back
		require.Equal(t, diagram.EmptyDocument, svc.Latest())
		require.Equal(t, diagram.EmptyDocument, canvas.lastLoad())
		require.Nil(t, svc.Pending())
	})

	t.Run("repair starts from the replaced document", func(t *testing.T) {
		repairer := &fakeRepairer{err: errors.New("model offline")}
		svc, canvas, snaps := newTestDiagramService(repairer)
		ctx := context.Background()
		_, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{ModelRuntime: "m1"})
		require.NoError(t, err)
		good := svc.Latest()
		require.True(t, svc.AcknowledgeRender(good))
		_, err = svc.ApplyCandidate(ctx, cellA+cellB, models.UpdateMeta{ModelRuntime: "m1"})
		require.NoError(t, err)
		require.NotEqual(t, good, svc.Latest())

		out, err := svc.HandleRuntimeError(ctx, models.RuntimeError{Message: "cannot render"})
		require.NoError(t, err)
		require.False(t, out.Committed)
		require.Equal(t, 1, repairer.count())
		require.Equal(t, good, repairer.requests[0].CurrentXML)
		require.Contains(t, repairer.requests[0].InvalidXML, `id="b"`)

		require.Equal(t, models.RepairFailed, svc.RepairState().Status)
		require.Equal(t, good, svc.Latest())
		require.Equal(t, good, out.XML)
		require.Equal(t, good, canvas.lastLoad())
		require.Equal(t, good, snaps.last)
		require.Nil(t, svc.Pending())
	})

	t.Run("rendered candidate is settled", func(t *testing.T) {
		repairer := &fakeRepairer{result: &models.RepairResult{Strategy: models.RepairStrategyDisplay, XML: cellB}}
		svc, _, _ := newTestDiagramService(repairer)
		ctx := context.Background()
		_, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{ModelRuntime: "m1"})
		require.NoError(t, err)

		require.False(t, svc.AcknowledgeRender(diagram.EmptyDocument))
		require.NotNil(t, svc.Pending())
		require.True(t, svc.AcknowledgeRender(svc.Latest()))
		require.Nil(t, svc.Pending())

		// a later unrelated error has nothing to repair
		out, err := svc.HandleRuntimeError(ctx, models.RuntimeError{Message: "font failed to load"})
		require.NoError(t, err)
		require.False(t, out.Committed)
		require.Zero(t, repairer.count())
		require.Equal(t, models.RepairFailed, svc.RepairState().Status)
		require.Equal(t, mustMerge(cellA), svc.Latest())
	})
}

func TestCommitRequiresCanvasLoad(t *testing.T) {
	svc, canvas, snaps := newTestDiagramService(&fakeRepairer{})
	ctx := context.Background()
	canvas.loadErr = errors.New("widget detached")

	out, err := svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{})
	require.ErrorIs(t, err, ErrCanvasLoad)
	require.False(t, out.Committed)
	require.Equal(t, diagram.EmptyDocument, svc.Latest())
	require.Equal(t, diagram.EmptyDocument, out.XML)
	require.Empty(t, snaps.last)
	require.Nil(t, svc.Pending())

	_, err = svc.LoadDocument(ctx, mustMerge(cellB))
	require.ErrorIs(t, err, ErrCanvasLoad)
	require.Equal(t, diagram.EmptyDocument, svc.Latest())

	canvas.loadErr = nil
	out, err = svc.ApplyCandidate(ctx, cellA, models.UpdateMeta{})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Equal(t, mustMerge(cellA), svc.Latest())
}

func TestLoadDocumentNeverRepairs(t *testing.T) {
	repairer := &fakeRepairer{}
	svc, canvas, _ := newTestDiagramService(repairer)

	_, err := svc.LoadDocument(context.Background(), "<mxfile><diagram>")
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.Zero(t, repairer.count())
	require.Zero(t, canvas.loadCount())

	out, err := svc.LoadDocument(context.Background(), mustMerge(cellA))
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Nil(t, svc.Pending())
}

func TestDiagramReset(t *testing.T) {
	svc, canvas, _ := newTestDiagramService(&fakeRepairer{err: errors.New("down")})
	ctx := context.Background()
	_, _ = svc.ApplyCandidate(ctx, cellA+dangling, models.UpdateMeta{})
	require.Equal(t, models.RepairFailed, svc.RepairState().Status)

	require.NoError(t, svc.Reset(ctx))
	require.Equal(t, diagram.EmptyDocument, svc.Latest())
	require.Nil(t, svc.Pending())
	require.Equal(t, models.RepairIdle, svc.RepairState().Status)
	require.Equal(t, diagram.EmptyDocument, canvas.lastLoad())
}

func TestConcurrentAppliesAreSerialized(t *testing.T) {
	svc, canvas, _ := newTestDiagramService(&fakeRepairer{})
	ctx := context.Background()

	candidates := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		cell := fmt.Sprintf(`<mxCell id="n%d" value="N%d" vertex="1" parent="1"><mxGeometry width="10" height="10" as="geometry"/></mxCell>`, i, i)
		candidates[mustMerge(cell)] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyCandidate(ctx, cell, models.UpdateMeta{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 8, canvas.loadCount())
	require.True(t, candidates[svc.Latest()])
	require.Equal(t, svc.Latest(), canvas.lastLoad())
}
