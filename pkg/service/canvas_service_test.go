package service

import (
	"context"
	"encoding/base64"
	"html"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpilot/flowpilot/pkg/models"
)

func svgExport(xml string) string {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" content="` + html.EscapeString(xml) + `"></svg>`
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

func TestExportCorrelatesByRequestID(t *testing.T) {
	canvas := &fakeCanvas{}
	svc := NewCanvasService("s1", canvas, time.Second, nil)
	doc := mustMerge(cellA)
	canvas.onExport = func(requestID, format string) {
		// a stray result for another request must not resolve this one
		assert.ErrorIs(t, svc.ResolveExport("stale", models.ExportResult{Data: "x"}), ErrUnknownExportReq)
		assert.NoError(t, svc.ResolveExport(requestID, models.ExportResult{Data: svgExport(doc)}))
	}

	res, err := svc.Export(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatXMLSVG, res.Format)
	assert.Zero(t, svc.PendingExports())

	xml, err := svc.FetchDiagramXML(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, xml)
}

func TestExportTimeoutAndFailure(t *testing.T) {
	canvas := &fakeCanvas{}
	svc := NewCanvasService("s1", canvas, 20*time.Millisecond, nil)

	_, err := svc.Export(context.Background(), models.ExportFormatPNG)
	require.ErrorIs(t, err, ErrExportTimeout)
	assert.Zero(t, svc.PendingExports())
	require.Len(t, canvas.exports, 1)
	assert.ErrorIs(t, svc.ResolveExport(canvas.exports[0], models.ExportResult{Data: "late"}), ErrUnknownExportReq)

	canvas.onExport = func(requestID, _ string) {
		_ = svc.ResolveExport(requestID, models.ExportResult{Error: "canvas busy"})
	}
	svc = NewCanvasService("s1", canvas, time.Second, nil)
	_, err = svc.Export(context.Background(), models.ExportFormatPNG)
	require.ErrorContains(t, err, "canvas busy")
}

func TestExportHonoursContext(t *testing.T) {
	svc := NewCanvasService("s1", &fakeCanvas{}, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Export(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestVersionHistory(t *testing.T) {
	canvas := &fakeCanvas{}
	svc := NewCanvasService("s1", canvas, time.Second, nil)
	docs := []string{mustMerge(cellA), mustMerge(cellA + cellB)}
	next := 0
	canvas.onExport = func(requestID, _ string) {
		_ = svc.ResolveExport(requestID, models.ExportResult{Data: svgExport(docs[next])})
	}

	v, idx, err := svc.SaveVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, docs[0], v.XML)
	assert.NotEmpty(t, v.PreviewImage)

	next = 1
	_, idx, err = svc.SaveVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, svc.SetActiveVersion(0))
	versions, active := svc.Versions()
	assert.Len(t, versions, 2)
	assert.Equal(t, 0, active)

	got, err := svc.Version(1)
	require.NoError(t, err)
	assert.Equal(t, docs[1], got.XML)
	_, err = svc.Version(2)
	require.ErrorIs(t, err, ErrVersionNotFound)
	require.ErrorIs(t, svc.SetActiveVersion(-1), ErrVersionNotFound)

	svc.RestoreHistory(versions, 7)
	_, active = svc.Versions()
	assert.Equal(t, 1, active)

	svc.Reset()
	versions, active = svc.Versions()
	assert.Empty(t, versions)
	assert.Equal(t, -1, active)
}

func TestCanvasServiceFeedsDiagramLoads(t *testing.T) {
	canvas := &fakeCanvas{}
	svc := NewDiagramService("s1", NewCanvasService("s1", canvas, time.Second, nil), nil, &fakeRepairer{}, nil)

	out, err := svc.ApplyCandidate(context.Background(), cellA, models.UpdateMeta{})
	require.NoError(t, err)
	require.True(t, out.Committed)
	assert.Equal(t, mustMerge(cellA), canvas.lastLoad())
	assert.Empty(t, canvas.exports)
}
