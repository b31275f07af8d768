package tools

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry is the central tool catalog. It maps stable tool references to
// local factories or to server-backed views, resolving textual references
// into live runtimes through the server manager and the runtime cache.
//
// The name mapping is populated once by Initialize and replaced only by
// Reload, atomically: readers observe either the old or the new mapping
// entirely, never a mix.
type Registry struct {
	manager *ServerManager
	cache   *RuntimeCache

	mu          sync.RWMutex
	specs       map[string]*ToolSpec
	locals      map[string]LocalFactory
	initialized bool
}

// NewRegistry creates an empty registry backed by the given server manager.
func NewRegistry(manager *ServerManager) *Registry {
	return &Registry{
		manager: manager,
		cache:   NewRuntimeCache(),
		specs:   make(map[string]*ToolSpec),
		locals:  make(map[string]LocalFactory),
	}
}

// RegisterLocal adds a local tool under a global, case-sensitive name.
func (r *Registry) RegisterLocal(name string, factory LocalFactory) error {
	if name == "" || factory == nil {
		return &ConfigError{Detail: "local tool needs a name and a factory"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; exists {
		return &DuplicateNameError{Name: name}
	}
	r.specs[name] = &ToolSpec{Name: name, Kind: KindLocal, Factory: factory}
	r.locals[name] = factory
	return nil
}

// RegisterRemote adds a full-access spec for a discovered server.
func (r *Registry) RegisterRemote(serverID string) error {
	key := refPrefix + serverID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[key]; exists {
		return &DuplicateNameError{Name: key}
	}
	r.specs[key] = &ToolSpec{Name: key, Kind: KindRemoteFull, ServerID: serverID}
	return nil
}

// Resolve parses a textual reference and returns a live runtime for it.
// Local tools get a fresh instance per call. Remote references go through
// the cache: one launch per server, one connection per distinct view, shared
// by every caller until invalidated. The returned runtime is borrowed; the
// caller must Release it on every exit path.
func (r *Registry) Resolve(ctx context.Context, reference string) (Runtime, error) {
	ref, err := ParseRef(reference)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	spec, ok := r.specs[ref.Key()]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownReferenceError{Reference: reference}
	}

	if ref.Kind == KindLocal {
		return spec.Factory(), nil
	}

	key := CacheKey{ServerID: spec.ServerID, SubsetKey: ref.SubsetKey()}
	conn, err := r.cache.GetOrCreate(key, func() (*Conn, error) {
		handle, err := r.manager.Discover(ctx, spec.ServerID)
		if err != nil {
			return nil, err
		}
		return r.manager.Connect(handle, ref.Subset)
	})
	if err != nil {
		return nil, err
	}
	if err := conn.handle.acquire(); err != nil {
		return nil, err
	}
	return conn, nil
}

// ResolveAll resolves references in the caller's order, failing fast: on the
// first error it releases everything resolved so far and reports which
// reference failed. There is no partial-success mode.
func (r *Registry) ResolveAll(ctx context.Context, references []string) ([]Runtime, error) {
	runtimes := make([]Runtime, 0, len(references))
	for _, reference := range references {
		rt, err := r.Resolve(ctx, reference)
		if err != nil {
			for _, prev := range runtimes {
				prev.Release()
			}
			return nil, fmt.Errorf("resolving %q: %w", reference, err)
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}

// Initialize is the one-shot startup sequence: register every local factory,
// discover every configured server, and populate the catalog. A server that
// fails discovery is recorded Failed and its tools are simply absent; the
// rest of the system starts with a reduced tool set. Returns the startup
// summary.
func (r *Registry) Initialize(ctx context.Context, locals map[string]LocalFactory, servers map[string]ServerConfig) ([]ToolInfo, error) {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry already initialized")
	}
	r.initialized = true
	r.mu.Unlock()

	for _, name := range sortedKeys(locals) {
		if err := r.RegisterLocal(name, locals[name]); err != nil {
			return nil, err
		}
	}

	r.manager.Configure(servers)
	for _, serverID := range discoverAll(ctx, r.manager, servers) {
		if err := r.RegisterRemote(serverID); err != nil {
			return nil, err
		}
	}

	summary := r.ListTools()
	logSummary(summary)
	return summary, nil
}

// Reload re-runs the registration step against a new configuration and
// atomically swaps the name mapping. Servers whose configuration changed or
// disappeared are shut down and their cache entries invalidated, so the next
// resolution performs a fresh discovery. On error the previous mapping stays
// intact.
func (r *Registry) Reload(ctx context.Context, servers map[string]ServerConfig) ([]ToolInfo, error) {
	r.mu.RLock()
	if !r.initialized {
		r.mu.RUnlock()
		return nil, fmt.Errorf("registry not initialized")
	}
	locals := make(map[string]LocalFactory, len(r.locals))
	for name, f := range r.locals {
		locals[name] = f
	}
	r.mu.RUnlock()

	previous := r.manager.Configs()
	for serverID, oldCfg := range previous {
		newCfg, stillThere := servers[serverID]
		switch {
		case !stillThere || !reflect.DeepEqual(oldCfg, newCfg):
			r.invalidateServer(serverID)
		case r.manager.Status(serverID) == StatusFailed:
			// Discovery failure is terminal within a process lifetime except
			// across an explicit reload, which grants one fresh attempt.
			r.invalidateServer(serverID)
		}
	}

	r.manager.Configure(servers)
	ready := discoverAll(ctx, r.manager, servers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	newSpecs := make(map[string]*ToolSpec, len(locals)+len(ready))
	for name, factory := range locals {
		newSpecs[name] = &ToolSpec{Name: name, Kind: KindLocal, Factory: factory}
	}
	for _, serverID := range ready {
		key := refPrefix + serverID
		newSpecs[key] = &ToolSpec{Name: key, Kind: KindRemoteFull, ServerID: serverID}
	}

	r.mu.Lock()
	r.specs = newSpecs
	r.mu.Unlock()

	summary := r.ListTools()
	logSummary(summary)
	return summary, nil
}

// Invalidate shuts down a server and evicts its cached connections. The next
// resolution against the server triggers a new discovery.
func (r *Registry) Invalidate(serverID string) {
	r.invalidateServer(serverID)
}

func (r *Registry) invalidateServer(serverID string) {
	// Shut the handle down first so in-flight creations observe a stopped
	// server instead of repopulating the cache with a stale connection.
	r.manager.ShutdownServer(serverID)
	r.cache.Invalidate(serverID)
}

// ListTools returns the catalog as (name, kind, status) rows, sorted by name.
// Local tools are always ready; remote entries report their server's state.
func (r *Registry) ListTools() []ToolInfo {
	r.mu.RLock()
	infos := make([]ToolInfo, 0, len(r.specs))
	for _, spec := range r.specs {
		info := ToolInfo{Name: spec.Name, Kind: spec.Kind, Status: StatusReady}
		if spec.Kind != KindLocal {
			info.Status = r.manager.Status(spec.ServerID)
		}
		infos = append(infos, info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// CacheSnapshot exposes the runtime cache contents for diagnostics.
func (r *Registry) CacheSnapshot() []CacheStat {
	return r.cache.Snapshot()
}

// Close shuts down every server subprocess. Called at process exit.
func (r *Registry) Close() {
	r.manager.CloseAll()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
