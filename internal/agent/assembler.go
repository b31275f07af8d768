package agent

import (
	"context"
	"fmt"

	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/tools"
)

const defaultMaxIterations = 10

// Assemble resolves a profile's tool references against the registry and
// builds an agent over the resulting runtimes. The returned release function
// must be called when the agent is done; it returns every resolved runtime
// to the registry.
func Assemble(ctx context.Context, reg *tools.Registry, client llm.Client, p *Profile) (*Agent, func(), error) {
	runtimes, err := reg.ResolveAll(ctx, p.Tools)
	if err != nil {
		return nil, nil, fmt.Errorf("assembling agent %s: %w", p.Name, err)
	}

	maxIter := p.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	a := New(client, runtimes, maxIter)
	a.SetSystemPrompt(p.SystemPrompt)

	release := func() {
		for _, rt := range runtimes {
			rt.Release()
		}
	}
	return a, release, nil
}
