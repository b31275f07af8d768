package tools_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmorgan/crucible/internal/tools"
)

func TestDiscoverResolvesPlaceholders(t *testing.T) {
	t.Setenv("CRUCIBLE_TEST_TOKEN", "sekrit")
	t.Setenv("CRUCIBLE_TEST_DIR", "/srv/data")

	m, d := newTestManager("t1")
	m.Configure(map[string]tools.ServerConfig{
		"srv": {
			Command: "server-bin",
			Args:    []string{"--root", "${CRUCIBLE_TEST_DIR}", "--mode", "${CRUCIBLE_TEST_MISSING:-fast}"},
			Env:     map[string]string{"API_TOKEN": "${CRUCIBLE_TEST_TOKEN}", "PLAIN": "literal"},
			Enabled: true,
		},
	})

	h, err := m.Discover(context.Background(), "srv")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if h.Status() != tools.StatusReady {
		t.Fatalf("status = %s, want ready", h.Status())
	}

	if d.lastCmd != "server-bin" {
		t.Errorf("command = %q", d.lastCmd)
	}
	want := []string{"--root", "/srv/data", "--mode", "fast"}
	if fmt.Sprint(d.lastArgs) != fmt.Sprint(want) {
		t.Errorf("args = %v, want %v", d.lastArgs, want)
	}

	env := strings.Join(d.lastEnv, "\n")
	if !strings.Contains(env, "API_TOKEN=sekrit") || !strings.Contains(env, "PLAIN=literal") {
		t.Errorf("env missing resolved entries:\n%s", env)
	}
}

func TestDiscoverMissingPlaceholderIsConfigError(t *testing.T) {
	m, d := newTestManager("t1")
	m.Configure(map[string]tools.ServerConfig{
		"srv": {Command: "server-bin", Env: map[string]string{"KEY": "${CRUCIBLE_DEFINITELY_UNSET_VAR}"}, Enabled: true},
	})

	h, err := m.Discover(context.Background(), "srv")
	var cfgErr *tools.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Discover = %v, want ConfigError", err)
	}
	if !strings.Contains(cfgErr.Error(), "CRUCIBLE_DEFINITELY_UNSET_VAR") {
		t.Errorf("error does not name the variable: %v", cfgErr)
	}
	if h.Status() != tools.StatusFailed {
		t.Errorf("status = %s, want failed", h.Status())
	}
	if d.launchCount() != 0 {
		t.Errorf("subprocess launched despite config error")
	}
}

func TestDiscoverCoalescesConcurrentCallers(t *testing.T) {
	m, d := newTestManager("t1")
	d.delay = 30 * time.Millisecond
	m.Configure(serverConfigs("srv"))

	const n = 16
	handles := make([]*tools.ServerHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Discover(context.Background(), "srv")
			if err != nil {
				t.Errorf("Discover: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := d.launchCount(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestDiscoverFailureIsTerminal(t *testing.T) {
	m, d := newTestManager("t1")
	d.setErr(errors.New("exec format error"))
	m.Configure(serverConfigs("srv"))

	_, err := m.Discover(context.Background(), "srv")
	var unavailable *tools.ServerUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Discover = %v, want ServerUnavailableError", err)
	}
	if unavailable.ServerID != "srv" {
		t.Errorf("ServerID = %q", unavailable.ServerID)
	}

	// The failure is recorded; no relaunch without an explicit shutdown.
	d.setErr(nil)
	_, err = m.Discover(context.Background(), "srv")
	if !errors.As(err, &unavailable) {
		t.Fatalf("second Discover = %v, want same failure", err)
	}
	if d.launchCount() != 1 {
		t.Errorf("launches = %d, want 1", d.launchCount())
	}
}

func TestDiscoverUnconfiguredServer(t *testing.T) {
	m, _ := newTestManager("t1")
	_, err := m.Discover(context.Background(), "ghost")
	var cfgErr *tools.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Discover = %v, want ConfigError", err)
	}
}

func TestConnectSubsetValidation(t *testing.T) {
	m, _ := newTestManager("t1", "t2", "t3")
	m.Configure(serverConfigs("srv"))
	h, err := m.Discover(context.Background(), "srv")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	conn, err := m.Connect(h, []string{"t1", "t3"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defs := conn.ToolDefs()
	if len(defs) != 2 {
		t.Fatalf("ToolDefs = %d entries, want 2", len(defs))
	}

	// A tool outside the view is rejected even though the server has it.
	if _, err := conn.CallTool(context.Background(), "t2", nil); err == nil {
		t.Fatal("CallTool outside subset should fail")
	}

	// t1 valid, t9 unknown: the whole connect fails, naming t9.
	_, err = m.Connect(h, []string{"t1", "t9"})
	var unknown *tools.UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Connect = %v, want UnknownToolError", err)
	}
	if unknown.Tool != "t9" {
		t.Errorf("offending tool = %q, want t9", unknown.Tool)
	}
}

func TestConnectNotReady(t *testing.T) {
	m, _ := newTestManager("t1")
	m.Configure(serverConfigs("srv"))
	h, err := m.Discover(context.Background(), "srv")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	m.Shutdown(h)
	_, err = m.Connect(h, nil)
	var notReady *tools.NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Connect = %v, want NotReadyError", err)
	}
	if notReady.Status != tools.StatusStopped {
		t.Errorf("status = %s, want stopped", notReady.Status)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	m, d := newTestManager("t1")
	m.Configure(serverConfigs("srv"))
	h, err := m.Discover(context.Background(), "srv")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	m.Shutdown(h)
	m.Shutdown(h)
	if h.Status() != tools.StatusStopped {
		t.Errorf("status = %s, want stopped", h.Status())
	}
	if !d.session(0).isClosed() {
		t.Error("session not closed after shutdown")
	}
}

func TestShutdownServerAllowsRediscovery(t *testing.T) {
	m, d := newTestManager("t1")
	m.Configure(serverConfigs("srv"))
	if _, err := m.Discover(context.Background(), "srv"); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	m.ShutdownServer("srv")
	if m.Status("srv") != tools.StatusNotStarted {
		t.Errorf("status = %s, want not_started after forget", m.Status("srv"))
	}

	h, err := m.Discover(context.Background(), "srv")
	if err != nil {
		t.Fatalf("rediscover: %v", err)
	}
	if h.Status() != tools.StatusReady {
		t.Errorf("status = %s, want ready", h.Status())
	}
	if d.launchCount() != 2 {
		t.Errorf("launches = %d, want 2", d.launchCount())
	}
}
