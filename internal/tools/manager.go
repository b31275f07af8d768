package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"
)

// Session is the live protocol connection to a launched tool server.
// *client.Client from mcp-go satisfies it; tests substitute their own.
type Session interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer launches a tool server subprocess and performs the protocol
// handshake, returning the live session and the tools the server reports.
type Dialer func(ctx context.Context, command string, args, env []string) (Session, []mcp.Tool, error)

// ServerHandle is the runtime state of one launched server. It is owned
// exclusively by the ServerManager and never duplicated.
type ServerHandle struct {
	ServerID string

	mu       sync.Mutex
	status   Status
	err      error // terminal discovery error, set iff status == StatusFailed
	session  Session
	tools    []mcp.Tool
	borrows  int
	draining bool
}

// Status returns the handle's current lifecycle state.
func (h *ServerHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the discovery error for a failed handle, nil otherwise.
func (h *ServerHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// DiscoveredTools returns the tool names the server reported, in the order
// the server listed them.
func (h *ServerHandle) DiscoveredTools() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.tools))
	for i, t := range h.tools {
		names[i] = t.Name
	}
	return names
}

// acquire registers a borrow against the handle.
func (h *ServerHandle) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusReady {
		return &NotReadyError{ServerID: h.ServerID, Status: h.status}
	}
	h.borrows++
	return nil
}

// release returns a borrow. If a shutdown was requested while borrows were
// outstanding, the last release closes the subprocess pipe.
func (h *ServerHandle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.borrows > 0 {
		h.borrows--
	}
	if h.draining && h.borrows == 0 {
		h.draining = false
		h.closeLocked()
	}
}

// shutdown is idempotent. With borrows outstanding it marks the handle
// Stopped immediately and defers closing the pipe to the last release, so
// the subprocess is never torn down mid-call yet never leaks.
func (h *ServerHandle) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusStopped {
		return
	}
	h.status = StatusStopped
	if h.borrows > 0 {
		h.draining = true
		return
	}
	h.closeLocked()
}

func (h *ServerHandle) closeLocked() {
	if h.session != nil {
		h.session.Close()
		h.session = nil
	}
}

// ServerManager owns the lifecycle of every configured tool server: command
// construction, environment placeholder resolution, subprocess launch,
// capability discovery, and shutdown.
type ServerManager struct {
	mu      sync.Mutex
	dial    Dialer
	configs map[string]ServerConfig
	handles map[string]*ServerHandle
	epochs  map[string]uint64
	group   singleflight.Group
}

// NewServerManager creates a manager that launches servers over stdio.
func NewServerManager() *ServerManager {
	return &ServerManager{
		dial:    stdioDial,
		configs: make(map[string]ServerConfig),
		handles: make(map[string]*ServerHandle),
		epochs:  make(map[string]uint64),
	}
}

// SetDialer replaces the transport used to launch servers. Tests use this to
// avoid spawning real subprocesses.
func (m *ServerManager) SetDialer(d Dialer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dial = d
}

// Configure replaces the manager's server configuration set. Existing
// handles are untouched; callers shut down servers whose config changed.
func (m *ServerManager) Configure(configs map[string]ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = make(map[string]ServerConfig, len(configs))
	for id, cfg := range configs {
		m.configs[id] = cfg
	}
}

// Configs returns a copy of the current configuration set.
func (m *ServerManager) Configs() map[string]ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ServerConfig, len(m.configs))
	for id, cfg := range m.configs {
		out[id] = cfg
	}
	return out
}

// errStaleLaunch signals a launch whose server was invalidated mid-flight.
// Never surfaced to callers; Discover retries against the current config.
var errStaleLaunch = fmt.Errorf("stale launch")

// Discover returns the handle for a configured server, launching and
// interrogating the subprocess on first use. Concurrent first-time callers
// coalesce onto a single launch. A failed discovery is terminal for the
// server until it is shut down (via invalidate or reload); every subsequent
// caller receives the same recorded error.
//
// The config snapshot is validated before the handle is installed: if the
// server was invalidated while the launch was in flight, the fresh handle is
// discarded and the attempt redone, so a resolve racing a reload can never
// reinstall a subprocess launched from the replaced configuration.
func (m *ServerManager) Discover(ctx context.Context, serverID string) (*ServerHandle, error) {
	for {
		m.mu.Lock()
		if h, ok := m.handles[serverID]; ok {
			m.mu.Unlock()
			return h, h.resultErr()
		}
		cfg, ok := m.configs[serverID]
		epoch := m.epochs[serverID]
		dial := m.dial
		m.mu.Unlock()
		if !ok {
			return nil, &ConfigError{Detail: fmt.Sprintf("server %q is not configured", serverID)}
		}

		v, err, _ := m.group.Do(serverID, func() (any, error) {
			m.mu.Lock()
			if h, ok := m.handles[serverID]; ok {
				m.mu.Unlock()
				return h, nil
			}
			m.mu.Unlock()

			h := discover(ctx, dial, serverID, cfg)

			m.mu.Lock()
			if m.epochs[serverID] != epoch {
				m.mu.Unlock()
				h.shutdown()
				return nil, errStaleLaunch
			}
			m.handles[serverID] = h
			m.mu.Unlock()
			return h, nil
		})
		if err == errStaleLaunch {
			continue
		}

		h := v.(*ServerHandle)
		return h, h.resultErr()
	}
}

// resultErr maps a handle's terminal state to the error Discover surfaces.
func (h *ServerHandle) resultErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.status {
	case StatusFailed:
		return h.err
	case StatusStopped:
		return &NotReadyError{ServerID: h.ServerID, Status: StatusStopped}
	default:
		return nil
	}
}

// discover resolves placeholders, launches the subprocess, and lists its
// tools. The launch is detached from the caller's cancellation: a caller
// abandoning a resolve must not kill a launch other waiters share. The
// per-server timeout keeps the attempt bounded.
func discover(ctx context.Context, dial Dialer, serverID string, cfg ServerConfig) *ServerHandle {
	h := &ServerHandle{ServerID: serverID, status: StatusStarting}

	command, args, env, err := resolveLaunch(cfg)
	if err != nil {
		h.status = StatusFailed
		h.err = err
		return h
	}

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.DiscoverTimeout())
	defer cancel()

	session, mcpTools, err := dial(dialCtx, command, args, env)
	if err != nil {
		h.status = StatusFailed
		h.err = &ServerUnavailableError{ServerID: serverID, Err: err}
		return h
	}

	h.session = session
	h.tools = mcpTools
	h.status = StatusReady
	return h
}

// Connect returns a connection scoped to the requested subset of the
// server's discovered tools, or to all of them when subset is empty.
func (m *ServerManager) Connect(h *ServerHandle, subset []string) (*Conn, error) {
	h.mu.Lock()
	status := h.status
	known := make(map[string]bool, len(h.tools))
	for _, t := range h.tools {
		known[t.Name] = true
	}
	h.mu.Unlock()

	if status != StatusReady {
		return nil, &NotReadyError{ServerID: h.ServerID, Status: status}
	}

	var allowed map[string]bool
	if len(subset) > 0 {
		allowed = make(map[string]bool, len(subset))
		for _, name := range subset {
			if !known[name] {
				return nil, &UnknownToolError{ServerID: h.ServerID, Tool: name}
			}
			allowed[name] = true
		}
	}

	name := refPrefix + h.ServerID
	if len(subset) > 0 {
		name += "[" + strings.Join(subset, ",") + "]"
	}
	return &Conn{name: name, handle: h, allowed: allowed}, nil
}

// Shutdown terminates a server subprocess. Idempotent; safe on a handle that
// is already stopped.
func (m *ServerManager) Shutdown(h *ServerHandle) {
	h.shutdown()
}

// ShutdownServer shuts down and forgets a server's handle, so a later
// Discover performs a fresh launch. Used by cache invalidation and reload.
func (m *ServerManager) ShutdownServer(serverID string) {
	m.mu.Lock()
	h := m.handles[serverID]
	delete(m.handles, serverID)
	m.epochs[serverID]++
	m.mu.Unlock()
	m.group.Forget(serverID)
	if h != nil {
		h.shutdown()
	}
}

// Status reports a server's lifecycle state; NotStarted if it has never been
// discovered.
func (m *ServerManager) Status(serverID string) Status {
	m.mu.Lock()
	h := m.handles[serverID]
	m.mu.Unlock()
	if h == nil {
		return StatusNotStarted
	}
	return h.Status()
}

// CloseAll shuts down every launched server. Called at process exit.
func (m *ServerManager) CloseAll() {
	m.mu.Lock()
	handles := make([]*ServerHandle, 0, len(m.handles))
	for id, h := range m.handles {
		handles = append(handles, h)
		m.epochs[id]++
	}
	m.handles = make(map[string]*ServerHandle)
	m.mu.Unlock()
	for _, h := range handles {
		h.shutdown()
	}
}

// stdioDial launches an MCP server subprocess and initializes the protocol,
// the same handshake sequence every stdio client performs.
func stdioDial(ctx context.Context, command string, args, env []string) (Session, []mcp.Tool, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("starting %s: %w", command, err)
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ClientInfo: mcp.Implementation{
				Name:    "crucible",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("initializing %s: %w", command, err)
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("listing tools from %s: %w", command, err)
	}

	return c, result.Tools, nil
}

var placeholderRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// expandPlaceholders substitutes ${VAR} and ${VAR:-default} from the host
// environment. Reads the environment, never mutates it. A referenced
// variable that is absent and has no default is a ConfigError.
func expandPlaceholders(s string) (string, error) {
	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderRE.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		if sub[2] != "" {
			return sub[2][2:] // strip the ":-"
		}
		missing = append(missing, sub[1])
		return ""
	})
	if len(missing) > 0 {
		return "", &ConfigError{
			Detail: fmt.Sprintf("undefined environment variable %s in %q", strings.Join(missing, ", "), s),
		}
	}
	return out, nil
}

// resolveLaunch expands every placeholder in a server config and builds the
// subprocess launch triple. The child environment is the host environment
// plus the resolved config entries.
func resolveLaunch(cfg ServerConfig) (command string, args, env []string, err error) {
	if cfg.Command == "" {
		return "", nil, nil, &ConfigError{Detail: "server config has no command"}
	}

	command, err = expandPlaceholders(cfg.Command)
	if err != nil {
		return "", nil, nil, err
	}

	args = make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		if args[i], err = expandPlaceholders(a); err != nil {
			return "", nil, nil, err
		}
	}

	env = append(env, os.Environ()...)
	for k, v := range cfg.Env {
		resolved, err := expandPlaceholders(v)
		if err != nil {
			return "", nil, nil, err
		}
		env = append(env, k+"="+resolved)
	}
	return command, args, env, nil
}
