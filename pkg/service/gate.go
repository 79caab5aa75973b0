package service

import (
	"sync"

	"github.com/flowpilot/flowpilot/pkg/event"
)

// DecisionGate blocks mutating entry points while a comparison result
// awaits the user's decision.
type DecisionGate struct {
	sessionID string
	emitter   *event.Emitter

	mu       sync.RWMutex
	requires bool
}

func NewDecisionGate(sessionID string, emitter *event.Emitter) *DecisionGate {
	return &DecisionGate{sessionID: sessionID, emitter: emitter}
}

// Requires reports whether a decision is pending.
func (g *DecisionGate) Requires() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.requires
}

// Check returns ErrBranchDecisionPending while a decision is pending.
func (g *DecisionGate) Check() error {
	if g.Requires() {
		return ErrBranchDecisionPending
	}
	return nil
}

// Set flips the gate.
func (g *DecisionGate) Set(requires bool) {
	g.mu.Lock()
	changed := g.requires != requires
	g.requires = requires
	g.mu.Unlock()
	if changed && g.emitter != nil {
		g.emitter.Emit(event.GateChangedEvent{Session: g.sessionID, RequiresDecision: requires})
	}
}
