package tools

import (
	"context"
	"time"

	"github.com/jmorgan/crucible/internal/llm"
)

// Runtime is a live tool capability an agent can invoke. Local tools and
// remote server connections both satisfy it.
type Runtime interface {
	// Name returns the reference this runtime was resolved from.
	Name() string

	// ToolDefs returns the tool schemas exposed to the LLM.
	ToolDefs() []llm.ToolDef

	// CallTool invokes a single tool by name and returns its text result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)

	// Release returns a borrowed runtime. Must be called on every exit path
	// of the borrowing scope; for local tools it is a no-op.
	Release()
}

// LocalFactory constructs a fresh local tool runtime. Local tools are cheap
// and stateless across calls, so a new instance is produced per resolution.
type LocalFactory func() Runtime

// ServerConfig describes how to launch one tool server over stdio.
// Command, Args, and Env values may contain ${VAR} or ${VAR:-default}
// placeholders, resolved against the host environment at discovery time.
type ServerConfig struct {
	Command        string            `mapstructure:"command" yaml:"command"`
	Args           []string          `mapstructure:"args" yaml:"args"`
	Env            map[string]string `mapstructure:"env" yaml:"env"`
	Enabled        bool              `mapstructure:"enabled" yaml:"enabled"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

const defaultDiscoverTimeout = 15 * time.Second

// DiscoverTimeout returns the handshake/discovery deadline for this server.
func (c ServerConfig) DiscoverTimeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultDiscoverTimeout
}

// Status is the lifecycle state of a tool server.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
)

// ToolSpec is one registered entry in the registry's catalog. Exactly one of
// Factory / ServerID is set, matching Kind.
type ToolSpec struct {
	Name     string
	Kind     Kind
	ServerID string
	Factory  LocalFactory
}

// ToolInfo is the listing row returned by Registry.ListTools.
type ToolInfo struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
}
