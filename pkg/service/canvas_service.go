package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// DefaultExportTimeout bounds the wait for a canvas export.
const DefaultExportTimeout = 10 * time.Second

// Canvas is the embedded rendering widget. Export results come back
// asynchronously through CanvasService.ResolveExport.
type Canvas interface {
	Load(ctx context.Context, xml string) error
	RequestExport(ctx context.Context, requestID, format string) error
}

// EventCanvas drives a browser canvas through the event bus.
type EventCanvas struct {
	sessionID string
	emitter   *event.Emitter
}

func NewEventCanvas(sessionID string, emitter *event.Emitter) *EventCanvas {
	return &EventCanvas{sessionID: sessionID, emitter: emitter}
}

func (c *EventCanvas) Load(_ context.Context, xml string) error {
	c.emitter.Emit(event.CanvasLoadEvent{Session: c.sessionID, XML: xml})
	return nil
}

func (c *EventCanvas) RequestExport(_ context.Context, requestID, format string) error {
	c.emitter.Emit(event.CanvasExportEvent{Session: c.sessionID, RequestID: requestID, Format: format})
	return nil
}

// CanvasService correlates export requests with their results and keeps the
// version history. Each export registers a one-shot channel under a fresh
// request id, so a late or duplicate result never resolves another request.
type CanvasService struct {
	sessionID string
	canvas    Canvas
	timeout   time.Duration
	emitter   *event.Emitter
	logger    *slog.Logger

	mu          sync.Mutex
	pending     map[string]chan models.ExportResult
	versions    []models.DiagramVersion
	activeIndex int
}

func NewCanvasService(sessionID string, canvas Canvas, timeout time.Duration, emitter *event.Emitter) *CanvasService {
	if timeout <= 0 {
		timeout = DefaultExportTimeout
	}
	return &CanvasService{
		sessionID:   sessionID,
		canvas:      canvas,
		timeout:     timeout,
		emitter:     emitter,
		logger:      utils.GetLogger().With("session", sessionID),
		pending:     make(map[string]chan models.ExportResult),
		activeIndex: -1,
	}
}

// Load replaces the displayed document.
func (s *CanvasService) Load(ctx context.Context, xml string) error {
	return s.canvas.Load(ctx, xml)
}

// Export asks the canvas for an export and waits for the correlated result.
func (s *CanvasService) Export(ctx context.Context, format string) (*models.ExportResult, error) {
	if format == "" {
		format = models.ExportFormatXMLSVG
	}
	requestID := uuid.New().String()
	ch := make(chan models.ExportResult, 1)

	s.mu.Lock()
	s.pending[requestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}()

	if err := s.canvas.RequestExport(ctx, requestID, format); err != nil {
		return nil, fmt.Errorf("request export: %w", err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Error != "" {
			return nil, fmt.Errorf("canvas export failed: %s", res.Error)
		}
		if res.Format == "" {
			res.Format = format
		}
		return &res, nil
	case <-timer.C:
		s.logger.Warn("canvas export timed out", "request_id", requestID, "timeout", s.timeout)
		return nil, ErrExportTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveExport delivers a canvas export result to its waiting request.
func (s *CanvasService) ResolveExport(requestID string, result models.ExportResult) error {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("dropping export result", "request_id", requestID)
		return ErrUnknownExportReq
	}
	ch <- result
	return nil
}

// PendingExports returns the number of exports awaiting a result.
func (s *CanvasService) PendingExports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FetchDiagramXML exports the canvas and extracts the document it shows.
func (s *CanvasService) FetchDiagramXML(ctx context.Context) (string, error) {
	res, err := s.Export(ctx, models.ExportFormatXMLSVG)
	if err != nil {
		return "", err
	}
	return diagram.ExtractFromExport(res.Data)
}

// SaveVersion exports the canvas and appends the result to the history.
func (s *CanvasService) SaveVersion(ctx context.Context) (models.DiagramVersion, int, error) {
	res, err := s.Export(ctx, models.ExportFormatXMLSVG)
	if err != nil {
		return models.DiagramVersion{}, -1, err
	}
	xml, err := diagram.ExtractFromExport(res.Data)
	if err != nil {
		return models.DiagramVersion{}, -1, fmt.Errorf("read export: %w", err)
	}
	v := models.DiagramVersion{PreviewImage: res.Data, XML: xml, CreatedAt: time.Now()}

	s.mu.Lock()
	s.versions = append(s.versions, v)
	s.activeIndex = len(s.versions) - 1
	idx := s.activeIndex
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.Emit(event.VersionAddedEvent{Session: s.sessionID, Index: idx})
	}
	return v, idx, nil
}

// Version returns version i.
func (s *CanvasService) Version(i int) (models.DiagramVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.versions) {
		return models.DiagramVersion{}, ErrVersionNotFound
	}
	return s.versions[i], nil
}

// SetActiveVersion moves the active index to an existing version.
func (s *CanvasService) SetActiveVersion(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.versions) {
		return ErrVersionNotFound
	}
	s.activeIndex = i
	return nil
}

// Versions returns the history and the active index.
func (s *CanvasService) Versions() ([]models.DiagramVersion, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.versions), s.activeIndex
}

// RestoreHistory replaces the history with persisted versions.
func (s *CanvasService) RestoreHistory(versions []models.DiagramVersion, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = slices.Clone(versions)
	if active < 0 || active >= len(s.versions) {
		active = len(s.versions) - 1
	}
	s.activeIndex = active
}

// Reset clears the history.
func (s *CanvasService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = nil
	s.activeIndex = -1
}
