package main

import (
	"context"
	"fmt"

	"github.com/jmorgan/crucible/internal/builtin"
	"github.com/jmorgan/crucible/internal/config"
	"github.com/jmorgan/crucible/internal/tools"
)

// buildRegistry starts the tool registry from config: builtin tools plus
// every enabled MCP server. Servers that fail to start are logged by the
// registry and left out of the catalog.
func buildRegistry(ctx context.Context, cfg *config.Config) (*tools.Registry, error) {
	manager := tools.NewServerManager()
	registry := tools.NewRegistry(manager)

	if _, err := registry.Initialize(ctx, builtin.Factories(), cfg.MCPServers); err != nil {
		registry.Close()
		return nil, fmt.Errorf("initializing tool registry: %w", err)
	}
	return registry, nil
}
