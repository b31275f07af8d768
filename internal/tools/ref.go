package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a parsed tool reference.
type Kind string

const (
	KindLocal        Kind = "local"
	KindRemoteFull   Kind = "remote"
	KindRemoteSubset Kind = "remote_subset"
)

const refPrefix = "mcp:"

// SubsetKeyFull is the cache key sentinel for whole-server access.
const SubsetKeyFull = "full"

// Ref is a parsed tool reference. The grammar is
//
//	reference := local_name | "mcp:" server_id [ "[" subset "]" ]
//	subset    := tool_name ("," tool_name)*
//
// e.g. "DuckDuckGoTools", "mcp:filesystem", "mcp:custom_tools[tool1,tool2]".
type Ref struct {
	Raw      string
	Kind     Kind
	Name     string   // local tool name, Kind == KindLocal
	ServerID string   // Kind != KindLocal
	Subset   []string // requested tool names, Kind == KindRemoteSubset
}

// ParseRef parses a textual tool reference. Malformed syntax is a ConfigError.
func ParseRef(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, &ConfigError{Detail: "empty tool reference"}
	}

	if !strings.HasPrefix(s, refPrefix) {
		if strings.ContainsAny(s, "[],:") {
			return Ref{}, &ConfigError{Detail: fmt.Sprintf("malformed tool reference %q", raw)}
		}
		return Ref{Raw: raw, Kind: KindLocal, Name: s}, nil
	}

	rest := s[len(refPrefix):]
	open := strings.IndexByte(rest, '[')
	if open < 0 {
		if rest == "" || strings.ContainsAny(rest, "[],:") {
			return Ref{}, &ConfigError{Detail: fmt.Sprintf("malformed server reference %q", raw)}
		}
		return Ref{Raw: raw, Kind: KindRemoteFull, ServerID: rest}, nil
	}

	serverID := rest[:open]
	if serverID == "" || !strings.HasSuffix(rest, "]") {
		return Ref{}, &ConfigError{Detail: fmt.Sprintf("malformed server reference %q", raw)}
	}

	var subset []string
	for _, name := range strings.Split(rest[open+1:len(rest)-1], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return Ref{}, &ConfigError{Detail: fmt.Sprintf("empty tool name in reference %q", raw)}
		}
		subset = append(subset, name)
	}
	if len(subset) == 0 {
		return Ref{}, &ConfigError{Detail: fmt.Sprintf("empty subset in reference %q", raw)}
	}

	return Ref{Raw: raw, Kind: KindRemoteSubset, ServerID: serverID, Subset: subset}, nil
}

// Key returns the registry lookup key for this reference: the local name, or
// "mcp:" + server_id for remote references regardless of subset.
func (r Ref) Key() string {
	if r.Kind == KindLocal {
		return r.Name
	}
	return refPrefix + r.ServerID
}

// SubsetKey returns the canonical cache key component for this reference's
// tool selection: sorted, deduplicated, comma-joined, or "full" when the
// whole server is requested.
func (r Ref) SubsetKey() string {
	if len(r.Subset) == 0 {
		return SubsetKeyFull
	}
	names := append([]string(nil), r.Subset...)
	sort.Strings(names)
	out := names[:1]
	for _, n := range names[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return strings.Join(out, ",")
}
