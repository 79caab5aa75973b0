package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// DefaultSaveDelay coalesces the writes caused by one burst of events.
const DefaultSaveDelay = 500 * time.Millisecond

// SessionManager keeps the live sessions and persists them after they
// change. A nil store keeps sessions in memory only.
type SessionManager struct {
	deps      SessionDeps
	store     *SessionStore
	saveDelay time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	saveMu sync.Mutex
	timers map[string]*time.Timer

	unsubscribe func()
}

func NewSessionManager(deps SessionDeps, store *SessionStore) *SessionManager {
	m := &SessionManager{
		deps:      deps,
		store:     store,
		saveDelay: DefaultSaveDelay,
		logger:    utils.GetLogger(),
		sessions:  make(map[string]*Session),
		timers:    make(map[string]*time.Timer),
	}
	if store != nil && deps.Emitter != nil {
		m.unsubscribe = deps.Emitter.OnAny(m.onEvent)
	}
	return m
}

// SetSaveDelay changes the write coalescing delay.
func (m *SessionManager) SetSaveDelay(d time.Duration) {
	m.saveMu.Lock()
	m.saveDelay = d
	m.saveMu.Unlock()
}

func (m *SessionManager) onEvent(ev event.Event) {
	switch ev.EventName() {
	case event.SessionDeleted, event.CanvasLoad, event.CanvasExport:
		return
	}
	if ev.SessionID() == "" {
		return
	}
	m.scheduleSave(ev.SessionID())
}

func (m *SessionManager) scheduleSave(id string) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if _, ok := m.timers[id]; ok {
		return
	}
	m.timers[id] = time.AfterFunc(m.saveDelay, func() {
		m.saveMu.Lock()
		delete(m.timers, id)
		m.saveMu.Unlock()
		if err := m.Save(context.Background(), id); err != nil {
			m.logger.Warn("failed to save session", "session", id, "error", err)
		}
	})
}

// Create starts a new session.
func (m *SessionManager) Create(title string) *Session {
	s := NewSession("", title, m.deps)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session", s.ID)
	if m.deps.Emitter != nil {
		m.deps.Emitter.Emit(event.SessionCreatedEvent{Session: s.ID, Title: title})
	}
	return s
}

// Get returns a live session, loading it from the store when needed.
func (m *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.store == nil {
		return nil, ErrSessionNotFound
	}

	snap, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	restored, err := RestoreSession(snap, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// another request may have loaded it meanwhile
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	m.sessions[id] = restored
	m.logger.Debug("session restored", "session", id, "branches", len(snap.Branches.Branches))
	return restored, nil
}

// List returns the stored and live sessions, live ones first.
func (m *SessionManager) List(ctx context.Context) ([]models.SessionSummary, error) {
	m.mu.RLock()
	seen := make(map[string]bool, len(m.sessions))
	out := make([]models.SessionSummary, 0, len(m.sessions))
	for id, s := range m.sessions {
		seen[id] = true
		out = append(out, models.SessionSummary{ID: id, Title: s.Title()})
	}
	m.mu.RUnlock()

	if m.store == nil {
		return out, nil
	}
	stored, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, summary := range stored {
		if !seen[summary.ID] {
			out = append(out, summary)
		}
	}
	return out, nil
}

// Delete drops a session from memory and from the store.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	m.saveMu.Lock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	m.saveMu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
	} else if !live {
		return ErrSessionNotFound
	}

	if m.deps.Emitter != nil {
		m.deps.Emitter.Emit(event.SessionDeletedEvent{Session: id})
	}
	return nil
}

// Save writes a live session to the store.
func (m *SessionManager) Save(ctx context.Context, id string) error {
	if m.store == nil {
		return nil
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.store.Save(ctx, s.Snapshot())
}

// Close stops pending writes and saves every live session.
func (m *SessionManager) Close(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.saveMu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.saveMu.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Save(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
