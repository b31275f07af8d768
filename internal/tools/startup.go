package tools

import (
	"context"
	"log"
	"sort"
	"sync"
)

// discoverAll launches discovery for every enabled server concurrently and
// returns the IDs that came up Ready, sorted. Failures are logged and
// isolated: one bad server never blocks the others.
func discoverAll(ctx context.Context, m *ServerManager, servers map[string]ServerConfig) []string {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ready []string
	)
	for serverID, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		wg.Add(1)
		go func(serverID string) {
			defer wg.Done()
			if _, err := m.Discover(ctx, serverID); err != nil {
				log.Printf("tool server %s failed discovery: %v", serverID, err)
				return
			}
			mu.Lock()
			ready = append(ready, serverID)
			mu.Unlock()
		}(serverID)
	}
	wg.Wait()

	sort.Strings(ready)
	return ready
}

// logSummary emits one line per catalog entry for observability.
func logSummary(infos []ToolInfo) {
	log.Printf("tool catalog: %d entries", len(infos))
	for _, info := range infos {
		log.Printf("  %-30s %-14s %s", info.Name, info.Kind, info.Status)
	}
}
