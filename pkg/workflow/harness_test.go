package workflow

import (
	"context"
	"fmt"
	"sync"
)

// stubProvider is a deterministic SessionProvider for engine tests.
// Replies are queued per agent name and popped in order; the last
// reply repeats once the queue drains.
type stubProvider struct {
	mu       sync.Mutex
	replies  map[string][]string
	sessions []Session
	prompts  []PromptRequest
	defs     []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{replies: make(map[string][]string)}
}

func (p *stubProvider) reply(agent string, texts ...string) {
	p.replies[agent] = append(p.replies[agent], texts...)
}

func (p *stubProvider) CreateSession(_ context.Context, _, name string) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Session{ID: fmt.Sprintf("sess-%d", len(p.sessions)+1), Name: name}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *stubProvider) ListSessions(_ context.Context, _ string) ([]Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Session, len(p.sessions))
	copy(out, p.sessions)
	return out, nil
}

func (p *stubProvider) Prompt(ctx context.Context, req PromptRequest) (PromptResponse, error) {
	if err := ctx.Err(); err != nil {
		return PromptResponse{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, req)

	queue := p.replies[req.AgentName]
	if len(queue) == 0 {
		return PromptResponse{}, fmt.Errorf("no stub reply queued for agent %s", req.AgentName)
	}
	text := queue[0]
	if len(queue) > 1 {
		p.replies[req.AgentName] = queue[1:]
	}
	return PromptResponse{
		MessageID: fmt.Sprintf("msg-%d", len(p.prompts)),
		Parts:     []MessagePart{TextPart(text)},
	}, nil
}

func (p *stubProvider) MessageDiff(context.Context, Session, string) (string, error) {
	return "", nil
}

func (p *stubProvider) RegisterAgentDefinition(_ context.Context, _, name, _, _ string, _ ToolPermissions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defs = append(p.defs, name)
	return nil
}

func (p *stubProvider) Invalidate(string) {}

// recordingRunner captures process requests and returns scripted
// results keyed by command.
type recordingRunner struct {
	mu       sync.Mutex
	requests []ProcessRequest
	results  map[string]ProcessResult
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{results: make(map[string]ProcessResult)}
}

func (r *recordingRunner) run(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return ProcessResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.results[req.Command], nil
}

// await runs a workflow to completion and returns the result.
func await(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, doc *Document, opts Options) *RunResult {
	t.Helper()
	handle, err := RunWorkflow(doc, opts)
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	result, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return result
}
