package tools_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jmorgan/crucible/internal/tools"
)

func newTestRegistry(t *testing.T, toolNames ...string) (*tools.Registry, *fakeDialer) {
	t.Helper()
	m, d := newTestManager(toolNames...)
	return tools.NewRegistry(m), d
}

func initRegistry(t *testing.T, r *tools.Registry, locals map[string]tools.LocalFactory, servers map[string]tools.ServerConfig) {
	t.Helper()
	if _, err := r.Initialize(context.Background(), locals, servers); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestRegisterLocalDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	factory := func() tools.Runtime { return &countingTool{name: "calc"} }

	if err := r.RegisterLocal("calc", factory); err != nil {
		t.Fatalf("RegisterLocal: %v", err)
	}
	err := r.RegisterLocal("calc", factory)
	var dup *tools.DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("second RegisterLocal = %v, want DuplicateNameError", err)
	}
}

func TestResolveUnknownReference(t *testing.T) {
	r, _ := newTestRegistry(t)
	initRegistry(t, r, nil, nil)

	_, err := r.Resolve(context.Background(), "NoSuchTool")
	var unknown *tools.UnknownReferenceError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve = %v, want UnknownReferenceError", err)
	}
	if unknown.Reference != "NoSuchTool" {
		t.Errorf("Reference = %q", unknown.Reference)
	}
}

func TestResolveLocalFreshInstancePerCall(t *testing.T) {
	r, _ := newTestRegistry(t)
	made := 0
	locals := map[string]tools.LocalFactory{
		"calc": func() tools.Runtime { made++; return &countingTool{name: "calc"} },
	}
	initRegistry(t, r, locals, nil)

	a, err := r.Resolve(context.Background(), "calc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := r.Resolve(context.Background(), "calc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if made != 2 {
		t.Errorf("factory ran %d times, want 2", made)
	}
	if a == b {
		t.Error("local resolutions returned the same instance")
	}
}

func TestResolveRemoteReturnsCachedConnection(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	initRegistry(t, r, nil, serverConfigs("srv"))

	a, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer a.Release()
	b, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer b.Release()

	if a != b {
		t.Error("repeated remote resolutions returned different handles")
	}
	if d.launchCount() != 1 {
		t.Errorf("launches = %d, want 1", d.launchCount())
	}
}

func TestResolveSubsetSharesServerProcess(t *testing.T) {
	r, d := newTestRegistry(t, "t1", "t2")
	initRegistry(t, r, nil, serverConfigs("srv"))

	full, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve full: %v", err)
	}
	defer full.Release()

	sub, err := r.Resolve(context.Background(), "mcp:srv[t1]")
	if err != nil {
		t.Fatalf("Resolve subset: %v", err)
	}
	defer sub.Release()

	if full == sub {
		t.Error("full and subset views should be distinct connections")
	}
	if d.launchCount() != 1 {
		t.Errorf("launches = %d, want 1 shared process", d.launchCount())
	}
	if len(sub.ToolDefs()) != 1 {
		t.Errorf("subset exposes %d tools, want 1", len(sub.ToolDefs()))
	}

	// Equivalent subsets share one cache entry regardless of spelling.
	again, err := r.Resolve(context.Background(), "mcp:srv[t1,t1]")
	if err != nil {
		t.Fatalf("Resolve subset again: %v", err)
	}
	defer again.Release()
	if again != sub {
		t.Error("canonically equal subsets resolved to different connections")
	}
}

func TestResolveSubsetUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t, "t1")
	initRegistry(t, r, nil, serverConfigs("srv"))

	_, err := r.Resolve(context.Background(), "mcp:srv[t1,t2]")
	var unknown *tools.UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve = %v, want UnknownToolError", err)
	}
	if unknown.Tool != "t2" {
		t.Errorf("offending tool = %q, want t2", unknown.Tool)
	}
}

func TestResolveAllPreservesOrderAndFailsFast(t *testing.T) {
	r, _ := newTestRegistry(t, "t1")
	invoked := make(map[string]int)
	locals := map[string]tools.LocalFactory{
		"a": func() tools.Runtime { invoked["a"]++; return &countingTool{name: "a"} },
		"c": func() tools.Runtime { invoked["c"]++; return &countingTool{name: "c"} },
	}
	initRegistry(t, r, locals, serverConfigs("srv"))

	runtimes, err := r.ResolveAll(context.Background(), []string{"a", "mcp:srv", "c"})
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	defer func() {
		for _, rt := range runtimes {
			rt.Release()
		}
	}()
	if len(runtimes) != 3 {
		t.Fatalf("got %d runtimes, want 3", len(runtimes))
	}
	if runtimes[0].Name() != "a" || runtimes[1].Name() != "mcp:srv" || runtimes[2].Name() != "c" {
		t.Errorf("order = [%s %s %s]", runtimes[0].Name(), runtimes[1].Name(), runtimes[2].Name())
	}

	// Fail fast: "b" is unknown, so "c" must never be attempted.
	before := invoked["c"]
	_, err = r.ResolveAll(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("ResolveAll with unknown reference should fail")
	}
	if !strings.Contains(err.Error(), `"b"`) {
		t.Errorf("error does not name the failing reference: %v", err)
	}
	var unknown *tools.UnknownReferenceError
	if !errors.As(err, &unknown) {
		t.Errorf("cause = %v, want UnknownReferenceError", err)
	}
	if invoked["c"] != before {
		t.Error("references after the failure were still resolved")
	}
}

func TestConcurrentResolveCoalesces(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	d.delay = 30 * time.Millisecond
	initRegistry(t, r, nil, serverConfigs("srv"))

	const n = 12
	results := make([]tools.Runtime, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rt, err := r.Resolve(context.Background(), "mcp:srv")
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			results[i] = rt
		}(i)
	}
	wg.Wait()

	if d.launchCount() != 1 {
		t.Fatalf("launches = %d, want exactly 1 under %d concurrent callers", d.launchCount(), n)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different connection", i)
		}
	}
	for _, rt := range results {
		rt.Release()
	}
}

func TestInitializePartialAvailability(t *testing.T) {
	m, _ := newTestManager("t1")
	bad := errors.New("no such binary")
	// Route by command: the "bad" server always fails to launch.
	good := &fakeDialer{toolNames: []string{"t1"}}
	m.SetDialer(func(ctx context.Context, command string, args, env []string) (tools.Session, []mcp.Tool, error) {
		if strings.HasPrefix(command, "bad") {
			return nil, nil, bad
		}
		return good.dial(ctx, command, args, env)
	})
	r := tools.NewRegistry(m)

	summary, err := r.Initialize(context.Background(), nil, serverConfigs("good", "bad"))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// The good server is registered and ready.
	if _, err := r.Resolve(context.Background(), "mcp:good"); err != nil {
		t.Fatalf("Resolve good server: %v", err)
	}

	// The bad server's tools are simply absent from the catalog.
	_, err = r.Resolve(context.Background(), "mcp:bad")
	var unknown *tools.UnknownReferenceError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve bad server = %v, want UnknownReferenceError", err)
	}

	for _, info := range summary {
		if info.Name == "mcp:bad" {
			t.Error("failed server listed in catalog")
		}
	}
	if m.Status("bad") != tools.StatusFailed {
		t.Errorf("bad server status = %s, want failed", m.Status("bad"))
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	r, _ := newTestRegistry(t)
	initRegistry(t, r, nil, nil)
	if _, err := r.Initialize(context.Background(), nil, nil); err == nil {
		t.Fatal("second Initialize should fail")
	}
}

func TestInvalidateTriggersRediscovery(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	initRegistry(t, r, nil, serverConfigs("srv"))

	first, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	first.Release()

	r.Invalidate("srv")
	if !d.session(0).isClosed() {
		t.Error("old session not shut down by invalidate")
	}

	second, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	second.Release()

	if d.launchCount() != 2 {
		t.Errorf("launches = %d, want 2 (fresh discovery)", d.launchCount())
	}
	if first == second {
		t.Error("stale connection reused after invalidate")
	}
}

func TestInvalidateDrainsBorrowedConnections(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	initRegistry(t, r, nil, serverConfigs("srv"))

	conn, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r.Invalidate("srv")
	if d.session(0).isClosed() {
		t.Fatal("pipe closed while a borrow was outstanding")
	}

	// The borrowed connection still serves calls during the drain.
	if _, err := conn.CallTool(context.Background(), "t1", nil); err != nil {
		t.Fatalf("CallTool during drain: %v", err)
	}

	conn.Release()
	if !d.session(0).isClosed() {
		t.Error("pipe not closed after the last release")
	}
}

func TestReloadChangedServerRediscovers(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	initRegistry(t, r, nil, map[string]tools.ServerConfig{
		"srv": {Command: "old-bin", Enabled: true},
	})

	first, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	first.Release()

	if _, err := r.Reload(context.Background(), map[string]tools.ServerConfig{
		"srv": {Command: "new-bin", Enabled: true},
	}); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if !d.session(0).isClosed() {
		t.Error("old connection survived a config change")
	}

	second, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve after reload: %v", err)
	}
	second.Release()

	if d.lastCmd != "new-bin" {
		t.Errorf("rediscovered with %q, want new-bin", d.lastCmd)
	}
	if first == second {
		t.Error("stale connection survived reload")
	}
}

func TestReloadDiscardsStaleLaunch(t *testing.T) {
	m := tools.NewServerManager()
	r := tools.NewRegistry(m)

	var (
		mu       sync.Mutex
		gated    bool
		sessions = map[string][]*fakeSession{}
	)
	gate := make(chan struct{})
	started := make(chan struct{})
	m.SetDialer(func(ctx context.Context, command string, args, env []string) (tools.Session, []mcp.Tool, error) {
		mu.Lock()
		hold := gated && command == "old-bin"
		mu.Unlock()
		if hold {
			close(started)
			<-gate
		}
		s := &fakeSession{}
		mu.Lock()
		sessions[command] = append(sessions[command], s)
		mu.Unlock()
		return s, []mcp.Tool{{Name: "t1"}}, nil
	})

	initRegistry(t, r, nil, map[string]tools.ServerConfig{
		"srv": {Command: "old-bin", Enabled: true},
	})

	// Drop the handle, then hold the relaunch open so a resolve is still
	// launching the old command while the reload below completes.
	r.Invalidate("srv")
	mu.Lock()
	gated = true
	mu.Unlock()

	resolved := make(chan error, 1)
	go func() {
		conn, err := r.Resolve(context.Background(), "mcp:srv")
		if err == nil {
			conn.Release()
		}
		resolved <- err
	}()
	<-started

	if _, err := r.Reload(context.Background(), map[string]tools.ServerConfig{
		"srv": {Command: "new-bin", Enabled: true},
	}); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	mu.Lock()
	gated = false
	mu.Unlock()
	close(gate)
	if err := <-resolved; err != nil {
		t.Fatalf("Resolve racing reload: %v", err)
	}

	conn, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve after reload: %v", err)
	}
	if _, err := conn.CallTool(context.Background(), "t1", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	conn.Release()

	mu.Lock()
	defer mu.Unlock()
	if n := len(sessions["new-bin"]); n != 1 {
		t.Fatalf("new-bin launches = %d, want 1", n)
	}
	if calls := sessions["new-bin"][0].calls; len(calls) != 1 || calls[0] != "t1" {
		t.Errorf("post-reload call hit %v on new-bin, want [t1]", calls)
	}
	for _, s := range sessions["old-bin"] {
		if !s.isClosed() {
			t.Error("connection launched from the replaced config survived reload")
		}
	}
}

func TestReloadRetriesFailedServer(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	d.setErr(errors.New("flaky launch"))
	initRegistry(t, r, nil, serverConfigs("srv"))

	if _, err := r.Resolve(context.Background(), "mcp:srv"); err == nil {
		t.Fatal("failed server should not resolve")
	}

	d.setErr(nil)
	if _, err := r.Reload(context.Background(), serverConfigs("srv")); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	conn, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve after reload: %v", err)
	}
	conn.Release()
}

func TestReloadRemovedServerLeavesNoEntry(t *testing.T) {
	r, d := newTestRegistry(t, "t1")
	initRegistry(t, r, nil, serverConfigs("srv"))

	conn, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	conn.Release()

	if _, err := r.Reload(context.Background(), nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !d.session(0).isClosed() {
		t.Error("removed server's connection not shut down")
	}
	_, err = r.Resolve(context.Background(), "mcp:srv")
	var unknown *tools.UnknownReferenceError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve = %v, want UnknownReferenceError after removal", err)
	}
}

func TestListToolsReportsKindAndStatus(t *testing.T) {
	r, _ := newTestRegistry(t, "t1")
	locals := map[string]tools.LocalFactory{
		"calc": func() tools.Runtime { return &countingTool{name: "calc"} },
	}
	initRegistry(t, r, locals, serverConfigs("srv"))

	infos := r.ListTools()
	byName := make(map[string]tools.ToolInfo, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}

	if got := byName["calc"]; got.Kind != tools.KindLocal || got.Status != tools.StatusReady {
		t.Errorf("calc = %+v", got)
	}
	if got := byName["mcp:srv"]; got.Kind != tools.KindRemoteFull || got.Status != tools.StatusReady {
		t.Errorf("mcp:srv = %+v", got)
	}
}

func TestCacheSnapshot(t *testing.T) {
	r, _ := newTestRegistry(t, "t1", "t2")
	initRegistry(t, r, nil, serverConfigs("srv"))

	full, err := r.Resolve(context.Background(), "mcp:srv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer full.Release()
	sub, err := r.Resolve(context.Background(), "mcp:srv[t2]")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer sub.Release()

	stats := r.CacheSnapshot()
	if len(stats) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(stats))
	}
	if stats[0].SubsetKey != tools.SubsetKeyFull || stats[1].SubsetKey != "t2" {
		t.Errorf("snapshot = %+v", stats)
	}
}
