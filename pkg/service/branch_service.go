package service

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// BranchSnapshot is the persisted form of a branch set.
type BranchSnapshot struct {
	ActiveBranchID string
	Branches       []*models.Branch // creation order, root first
}

// BranchService owns the branch arena of one session. Branches are keyed by
// id with ParentID as a back reference; the list view and the root to
// active trail are derived on every read. Every returned branch is a copy.
type BranchService struct {
	sessionID string
	emitter   *event.Emitter
	logger    *slog.Logger

	mu       sync.RWMutex
	branches map[string]*models.Branch
	order    []string
	activeID string
	seq      int
}

// NewBranchService creates the arena with a fresh root branch.
func NewBranchService(sessionID string, emitter *event.Emitter) *BranchService {
	s := &BranchService{
		sessionID: sessionID,
		emitter:   emitter,
		logger:    utils.GetLogger().With("session", sessionID),
	}
	s.resetLocked()
	return s
}

func (s *BranchService) resetLocked() {
	root := &models.Branch{
		ID:        uuid.New().String(),
		SessionID: s.sessionID,
		Label:     models.RootBranchLabel,
		Messages:  []models.Message{},
		Meta:      models.BranchMeta{Type: models.BranchTypeRoot},
		CreatedAt: time.Now(),
	}
	s.branches = map[string]*models.Branch{root.ID: root}
	s.order = []string{root.ID}
	s.activeID = root.ID
	s.seq = 1
}

func (s *BranchService) emit(reason string) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(event.BranchChangedEvent{Session: s.sessionID, ActiveBranchID: s.ActiveID(), Reason: reason})
}

// CreateBranch adds a branch under opts.ParentID. It returns nil when the
// parent does not resolve.
func (s *BranchService) CreateBranch(opts models.CreateBranchOptions) *models.Branch {
	s.mu.Lock()
	parent, ok := s.branches[opts.ParentID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("create branch: parent not found", "parent_id", opts.ParentID, "error", ErrBranchNotFound)
		return nil
	}

	var messages []models.Message
	switch {
	case opts.SeedMessages != nil:
		messages = slices.Clone(opts.SeedMessages)
	case opts.InheritMessages == nil || *opts.InheritMessages:
		messages = slices.Clone(parent.Messages)
	default:
		messages = []models.Message{}
	}

	label := opts.Label
	if label == "" {
		label = fmt.Sprintf("Branch %d", s.seq)
	}
	parentID := parent.ID
	branch := &models.Branch{
		ID:         uuid.New().String(),
		SessionID:  s.sessionID,
		ParentID:   &parentID,
		Label:      label,
		DiagramXML: cloneString(opts.DiagramXML),
		Messages:   messages,
		Meta:       opts.Meta,
		Seq:        s.seq,
		CreatedAt:  time.Now(),
	}
	if branch.Meta.Type == "" {
		branch.Meta.Type = models.BranchTypeManual
	}
	s.seq++
	s.branches[branch.ID] = branch
	s.order = append(s.order, branch.ID)
	if opts.Activate == nil || *opts.Activate {
		s.activeID = branch.ID
	}
	out := cloneBranch(branch)
	s.mu.Unlock()

	s.logger.Debug("branch created", "branch_id", out.ID, "parent_id", parentID, "type", out.Meta.Type)
	s.emit("create")
	return out
}

// SwitchBranch activates id and returns it, or nil when id is unknown. The
// caller re-applies the branch's messages and diagram.
func (s *BranchService) SwitchBranch(id string) *models.Branch {
	s.mu.Lock()
	b, ok := s.branches[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("switch branch: not found", "branch_id", id, "error", ErrBranchNotFound)
		return nil
	}
	s.activeID = id
	out := cloneBranch(b)
	s.mu.Unlock()

	s.emit("switch")
	return out
}

// UpdateActiveBranchMessages replaces the active branch's message snapshot.
func (s *BranchService) UpdateActiveBranchMessages(messages []models.Message) {
	s.mu.Lock()
	b, ok := s.branches[s.activeID]
	if ok {
		b.Messages = slices.Clone(messages)
		if b.Messages == nil {
			b.Messages = []models.Message{}
		}
	}
	s.mu.Unlock()
	if ok {
		s.emit("update")
	}
}

// UpdateActiveBranchDiagram replaces the active branch's diagram snapshot.
func (s *BranchService) UpdateActiveBranchDiagram(xml string) {
	s.mu.Lock()
	b, ok := s.branches[s.activeID]
	if ok {
		b.DiagramXML = &xml
	}
	s.mu.Unlock()
	if ok {
		s.emit("update")
	}
}

// ResetActiveBranch discards every branch and starts over from a fresh root.
func (s *BranchService) ResetActiveBranch() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.emit("reset")
}

// ActiveID returns the active branch id.
func (s *BranchService) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns the active branch.
func (s *BranchService) Active() *models.Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBranch(s.branches[s.activeID])
}

// ActiveMessages returns a copy of the active branch's messages.
func (s *BranchService) ActiveMessages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.branches[s.activeID]; ok {
		return slices.Clone(b.Messages)
	}
	return nil
}

// Get returns the branch with id, or nil.
func (s *BranchService) Get(id string) *models.Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return nil
	}
	return cloneBranch(b)
}

// Branches returns every branch in creation order.
func (s *BranchService) Branches() []*models.Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.order, func(id string, _ int) *models.Branch {
		return cloneBranch(s.branches[id])
	})
}

// Trail returns the path from the root to the active branch.
func (s *BranchService) Trail() []*models.Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trailLocked(s.activeID)
}

func (s *BranchService) trailLocked(id string) []*models.Branch {
	var trail []*models.Branch
	seen := make(map[string]bool)
	for cur, ok := s.branches[id]; ok; {
		if seen[cur.ID] {
			// unreachable: parents always exist before their children
			s.logger.Error("branch lineage cycle", "branch_id", cur.ID)
			break
		}
		seen[cur.ID] = true
		trail = append(trail, cloneBranch(cur))
		if cur.ParentID == nil {
			break
		}
		cur, ok = s.branches[*cur.ParentID]
	}
	slices.Reverse(trail)
	return trail
}

// Tree returns the derived branch views.
func (s *BranchService) Tree() models.BranchTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.BranchTree{
		ActiveBranchID: s.activeID,
		Branches: lo.Map(s.order, func(id string, _ int) *models.Branch {
			return cloneBranch(s.branches[id])
		}),
		Trail: s.trailLocked(s.activeID),
	}
}

// Snapshot returns the branch set for persistence.
func (s *BranchService) Snapshot() BranchSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BranchSnapshot{
		ActiveBranchID: s.activeID,
		Branches: lo.Map(s.order, func(id string, _ int) *models.Branch {
			return cloneBranch(s.branches[id])
		}),
	}
}

// Restore replaces the arena with a persisted snapshot. The snapshot must
// contain exactly one root, list parents before children and name an
// existing active branch.
func (s *BranchService) Restore(snap BranchSnapshot) error {
	branches := make(map[string]*models.Branch, len(snap.Branches))
	order := make([]string, 0, len(snap.Branches))
	roots := 0
	maxSeq := 0
	for _, b := range snap.Branches {
		if b.ParentID == nil {
			roots++
		} else if _, ok := branches[*b.ParentID]; !ok {
			return fmt.Errorf("restore branches: parent %s of %s not found", *b.ParentID, b.ID)
		}
		branches[b.ID] = cloneBranch(b)
		order = append(order, b.ID)
		maxSeq = max(maxSeq, b.Seq)
	}
	if roots != 1 {
		return fmt.Errorf("restore branches: expected one root, found %d", roots)
	}
	if _, ok := branches[snap.ActiveBranchID]; !ok {
		return fmt.Errorf("restore branches: active %s: %w", snap.ActiveBranchID, ErrBranchNotFound)
	}

	s.mu.Lock()
	s.branches = branches
	s.order = order
	s.activeID = snap.ActiveBranchID
	s.seq = maxSeq + 1
	s.mu.Unlock()
	return nil
}

func cloneBranch(b *models.Branch) *models.Branch {
	if b == nil {
		return nil
	}
	c := *b
	c.ParentID = cloneString(b.ParentID)
	c.DiagramXML = cloneString(b.DiagramXML)
	c.Messages = slices.Clone(b.Messages)
	if c.Messages == nil {
		c.Messages = []models.Message{}
	}
	return &c
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
