package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jmorgan/crucible/internal/llm"
)

// Conn is a runtime connection to a tool server, scoped to a view of its
// discovered tools. Conns sharing a server share one subprocess; the view
// only filters which tools are visible and callable.
type Conn struct {
	name    string
	handle  *ServerHandle
	allowed map[string]bool // nil means every discovered tool
}

var _ Runtime = (*Conn)(nil)

// Name returns the reference form of this connection's view, e.g.
// "mcp:custom_tools[generate_id]".
func (c *Conn) Name() string {
	return c.name
}

// ServerID returns the ID of the server this connection belongs to.
func (c *Conn) ServerID() string {
	return c.handle.ServerID
}

// ToolDefs converts the visible tool schemas to llm.ToolDef for the LLM API.
func (c *Conn) ToolDefs() []llm.ToolDef {
	c.handle.mu.Lock()
	mcpTools := append([]mcp.Tool(nil), c.handle.tools...)
	c.handle.mu.Unlock()

	var defs []llm.ToolDef
	for _, t := range mcpTools {
		if c.allowed != nil && !c.allowed[t.Name] {
			continue
		}
		params := map[string]any{
			"type": t.InputSchema.Type,
		}
		if t.InputSchema.Properties != nil {
			params["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			params["required"] = t.InputSchema.Required
		}
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

// CallTool invokes a tool on the server and returns the text result. Tools
// outside this connection's view are rejected even if the server offers them.
func (c *Conn) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.allowed != nil && !c.allowed[name] {
		return "", &UnknownToolError{ServerID: c.handle.ServerID, Tool: name}
	}

	c.handle.mu.Lock()
	session := c.handle.session
	status := c.handle.status
	draining := c.handle.draining
	c.handle.mu.Unlock()

	// A draining handle still serves outstanding borrows until the last
	// release; anything else that is not Ready is rejected.
	if session == nil || (status != StatusReady && !draining) {
		return "", &NotReadyError{ServerID: c.handle.ServerID, Status: status}
	}

	result, err := session.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", &ServerUnavailableError{ServerID: c.handle.ServerID, Err: err}
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	text := strings.Join(parts, "\n")
	if result.IsError {
		return "error: " + text, nil
	}
	return text, nil
}

// Release returns this borrowed connection. The underlying subprocess stays
// alive for other holders of the same server; if a shutdown is pending, the
// last release closes the pipe.
func (c *Conn) Release() {
	c.handle.release()
}

// stopped reports whether the underlying server has been shut down, which
// makes any cached entry for this connection stale.
func (c *Conn) stopped() bool {
	return c.handle.Status() == StatusStopped
}
