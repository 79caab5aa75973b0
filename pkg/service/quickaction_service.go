package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

const quickActionsFileName = ".flowpilot/quick_actions.json"

// DefaultQuickActionsFilePath returns ~/.flowpilot/quick_actions.json.
func DefaultQuickActionsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return quickActionsFileName
	}
	return filepath.Join(home, quickActionsFileName)
}

// QuickActionService keeps quick actions in memory, persisted to a JSON
// file. A missing file is seeded with the default actions.
type QuickActionService struct {
	logger *slog.Logger
	path   string

	mu      sync.RWMutex
	actions map[string]*models.QuickAction
	order   []string
}

func NewQuickActionService(path string) (*QuickActionService, error) {
	if path == "" {
		path = DefaultQuickActionsFilePath()
	}
	s := &QuickActionService{
		logger:  utils.GetLogger(),
		path:    path,
		actions: make(map[string]*models.QuickAction),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QuickActionService) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		now := time.Now().UTC()
		for i, a := range models.DefaultQuickActions {
			a.Order = i
			a.UpdatedAt = now
			s.put(a)
		}
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("read quick actions: %w", err)
	}

	var list []models.QuickAction
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse quick actions %s: %w", s.path, err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	for _, a := range list {
		s.put(a)
	}
	return nil
}

func (s *QuickActionService) put(a models.QuickAction) {
	s.actions[a.ID] = &a
	s.order = append(s.order, a.ID)
}

// saveLocked writes the actions in display order. Callers hold mu.
func (s *QuickActionService) saveLocked() error {
	list := make([]models.QuickAction, 0, len(s.order))
	for i, id := range s.order {
		a := *s.actions[id]
		a.Order = i
		list = append(list, a)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *QuickActionService) List() []models.QuickAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.QuickAction, 0, len(s.order))
	for i, id := range s.order {
		a := *s.actions[id]
		a.Order = i
		out = append(out, a)
	}
	return out
}

func (s *QuickActionService) Get(id string) (*models.QuickAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQuickActionNotFound, id)
	}
	out := *a
	out.Order = slices.Index(s.order, id)
	return &out, nil
}

func (s *QuickActionService) Create(req *models.CreateQuickActionRequest) (*models.QuickAction, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("title and prompt required")
	}
	a := &models.QuickAction{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Prompt:      req.Prompt,
		Badge:       req.Badge,
		UpdatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a.Order = len(s.order)
	s.actions[a.ID] = a
	s.order = append(s.order, a.ID)
	if err := s.saveLocked(); err != nil {
		delete(s.actions, a.ID)
		s.order = s.order[:len(s.order)-1]
		return nil, err
	}
	out := *a
	return &out, nil
}

func (s *QuickActionService) Update(id string, req *models.UpdateQuickActionRequest) (*models.QuickAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQuickActionNotFound, id)
	}
	old := *a
	if req.Title != nil {
		a.Title = *req.Title
	}
	if req.Description != nil {
		a.Description = *req.Description
	}
	if req.Prompt != nil {
		a.Prompt = *req.Prompt
	}
	if req.Badge != nil {
		a.Badge = *req.Badge
	}
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Prompt) == "" {
		*a = old
		return nil, errors.New("title and prompt required")
	}
	a.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		*a = old
		return nil, err
	}
	out := *a
	return &out, nil
}

func (s *QuickActionService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQuickActionNotFound, id)
	}
	oldOrder := slices.Clone(s.order)
	delete(s.actions, id)
	s.order = slices.DeleteFunc(s.order, func(oid string) bool { return oid == id })
	if err := s.saveLocked(); err != nil {
		s.actions[id] = a
		s.order = oldOrder
		return err
	}
	return nil
}

// Reorder moves the listed ids to the front in the given order; the rest
// keep their relative order.
func (s *QuickActionService) Reorder(ids []string) ([]models.QuickAction, error) {
	s.mu.Lock()
	for _, id := range ids {
		if _, ok := s.actions[id]; !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("invalid id in reorder list: %s", id)
		}
	}
	oldOrder := slices.Clone(s.order)
	seen := make(map[string]bool, len(ids))
	next := make([]string, 0, len(s.order))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			next = append(next, id)
		}
	}
	for _, id := range s.order {
		if !seen[id] {
			next = append(next, id)
		}
	}
	s.order = next
	if err := s.saveLocked(); err != nil {
		s.order = oldOrder
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.List(), nil
}
