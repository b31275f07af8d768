package tools_test

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/tools"
)

// fakeSession records tool calls and close requests in place of a real
// stdio subprocess session.
type fakeSession struct {
	mu     sync.Mutex
	closed bool
	calls  []string
}

func (s *fakeSession) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Params.Name)
	s.mu.Unlock()
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "ok:" + req.Params.Name}},
	}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer counts launches and hands out fake sessions, optionally failing
// or stalling to exercise coalescing.
type fakeDialer struct {
	mu       sync.Mutex
	launches int
	sessions []*fakeSession
	lastCmd  string
	lastArgs []string
	lastEnv  []string

	toolNames []string
	err       error
	delay     time.Duration
}

func (d *fakeDialer) dial(ctx context.Context, command string, args, env []string) (tools.Session, []mcp.Tool, error) {
	d.mu.Lock()
	d.launches++
	d.lastCmd, d.lastArgs, d.lastEnv = command, args, env
	err, delay := d.err, d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, nil, err
	}

	var mcpTools []mcp.Tool
	for _, name := range d.toolNames {
		mcpTools = append(mcpTools, mcp.Tool{Name: name, Description: "fake " + name})
	}

	s := &fakeSession{}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, mcpTools, nil
}

func (d *fakeDialer) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

// newTestManager returns a manager wired to a fake dialer exposing the given
// tool names for every configured server.
func newTestManager(toolNames ...string) (*tools.ServerManager, *fakeDialer) {
	d := &fakeDialer{toolNames: toolNames}
	m := tools.NewServerManager()
	m.SetDialer(d.dial)
	return m, d
}

func serverConfigs(ids ...string) map[string]tools.ServerConfig {
	cfgs := make(map[string]tools.ServerConfig, len(ids))
	for _, id := range ids {
		cfgs[id] = tools.ServerConfig{Command: id + "-bin", Enabled: true}
	}
	return cfgs
}

// countingTool is a minimal local tool runtime.
type countingTool struct {
	name string
}

func (t *countingTool) Name() string { return t.name }

func (t *countingTool) ToolDefs() []llm.ToolDef {
	return []llm.ToolDef{{Name: t.name, Description: "local " + t.name}}
}

func (t *countingTool) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return "local:" + name, nil
}

func (t *countingTool) Release() {}
