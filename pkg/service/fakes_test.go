package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/flowpilot/flowpilot/pkg/diagram"
	"github.com/flowpilot/flowpilot/pkg/models"
)

// cellA and cellB are valid mutable subtrees; edgeAB connects them.
const (
	cellA    = `<mxCell id="a" value="A" vertex="1" parent="1"><mxGeometry x="10" y="10" width="80" height="40" as="geometry"/></mxCell>`
	cellB    = `<mxCell id="b" value="B" vertex="1" parent="1"><mxGeometry x="200" y="10" width="80" height="40" as="geometry"/></mxCell>`
	edgeAB   = `<mxCell id="e1" edge="1" source="a" target="b" parent="1"><mxGeometry relative="1" as="geometry"/></mxCell>`
	dangling = `<mxCell id="e2" edge="1" source="a" target="ghost" parent="1"><mxGeometry relative="1" as="geometry"/></mxCell>`
)

func mustMerge(cells string) string {
	merged, err := diagram.ReplaceMutableSubtree(diagram.EmptyDocument, cells)
	if err != nil {
		panic(err)
	}
	res := diagram.Validate(merged)
	if !res.IsValid {
		panic(diagram.SummarizeErrors(res.Errors))
	}
	return res.NormalizedXML
}

// mergeUnchecked merges cells without validating, for fixtures that are
// meant to be invalid.
func mergeUnchecked(cells string) string {
	merged, err := diagram.ReplaceMutableSubtree(diagram.EmptyDocument, cells)
	if err != nil {
		panic(err)
	}
	return merged
}

// fakeGenerator answers from a per-model script, or from fn when the
// script is exhausted.
type fakeGenerator struct {
	mu      sync.Mutex
	scripts map[string][]fakeReply
	fn      func(req GenerateRequest) (*schema.Message, error)
	unknown map[string]bool
	calls   []GenerateRequest
}

type fakeReply struct {
	msg *schema.Message
	err error
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{scripts: make(map[string][]fakeReply), unknown: make(map[string]bool)}
}

func (g *fakeGenerator) script(modelID string, replies ...fakeReply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[modelID] = append(g.scripts[modelID], replies...)
}

func (g *fakeGenerator) Resolve(modelID string) (*models.ResolvedModel, error) {
	if modelID == "" {
		modelID = "default"
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unknown[modelID] {
		return nil, fmt.Errorf("model %s: %w", modelID, ErrNoModels)
	}
	return &models.ResolvedModel{ID: modelID, Label: strings.ToUpper(modelID), Provider: "fake"}, nil
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (*schema.Message, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	queue := g.scripts[req.ModelID]
	if len(queue) > 0 {
		g.scripts[req.ModelID] = queue[1:]
		g.mu.Unlock()
		return queue[0].msg, queue[0].err
	}
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil, errors.New("no scripted reply")
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func textReply(text string) fakeReply {
	return fakeReply{msg: schema.AssistantMessage(text, nil)}
}

func toolReply(text, name, args string) fakeReply {
	return fakeReply{msg: schema.AssistantMessage(text, []schema.ToolCall{{
		ID:       "call-" + name,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})}
}

func compareReply(summary, xml string) fakeReply {
	return textReply(fmt.Sprintf("```json\n{\"summary\": %q, \"xml\": %q}\n```", summary, xml))
}

// fakeCanvas records loads and can answer exports through a callback.
type fakeCanvas struct {
	mu       sync.Mutex
	loads    []string
	exports  []string
	onExport func(requestID, format string)
	loadErr  error
}

func (c *fakeCanvas) Load(_ context.Context, xml string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads = append(c.loads, xml)
	return c.loadErr
}

func (c *fakeCanvas) RequestExport(_ context.Context, requestID, format string) error {
	c.mu.Lock()
	c.exports = append(c.exports, requestID)
	fn := c.onExport
	c.mu.Unlock()
	if fn != nil {
		go fn(requestID, format)
	}
	return nil
}

func (c *fakeCanvas) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loads)
}

func (c *fakeCanvas) lastLoad() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.loads) == 0 {
		return ""
	}
	return c.loads[len(c.loads)-1]
}

// fakeRepairer returns a fixed result and records requests.
type fakeRepairer struct {
	mu       sync.Mutex
	result   *models.RepairResult
	err      error
	requests []RepairRequest
}

func (r *fakeRepairer) RequestRepair(_ context.Context, req RepairRequest) (*models.RepairResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *fakeRepairer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// snapshotRecorder captures diagram snapshots.
type snapshotRecorder struct {
	mu   sync.Mutex
	last string
	n    int
}

func (s *snapshotRecorder) UpdateActiveBranchDiagram(xml string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = xml
	s.n++
}
