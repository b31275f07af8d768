package tools

import "fmt"

// Error taxonomy for the registry and server manager. All resolution
// failures surface as one of these types; callers branch with errors.As.

// ConfigError reports a bad or missing environment placeholder, or a
// malformed tool reference.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Detail
}

// ServerUnavailableError reports a subprocess launch or handshake failure.
// It is recorded on the server handle and surfaced to every caller coalesced
// on that server until an explicit reload.
type ServerUnavailableError struct {
	ServerID string
	Err      error
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("server %s unavailable: %v", e.ServerID, e.Err)
}

func (e *ServerUnavailableError) Unwrap() error {
	return e.Err
}

// UnknownReferenceError reports a tool reference whose base name matches no
// registered spec.
type UnknownReferenceError struct {
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown tool reference %q", e.Reference)
}

// UnknownToolError reports a requested tool name that is not in the server's
// discovered tool set.
type UnknownToolError struct {
	ServerID string
	Tool     string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("server %s does not provide tool %q", e.ServerID, e.Tool)
}

// NotReadyError reports a connect attempt against a handle that is not Ready.
type NotReadyError struct {
	ServerID string
	Status   Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("server %s is not ready (status %s)", e.ServerID, e.Status)
}

// DuplicateNameError reports a registration collision. Names are global and
// case-sensitive.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}
