package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmorgan/crucible/internal/agent"
	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/storage"
)

// listProfiles returns every agent profile in the profiles directory,
// sorted by name.
func (s *Server) listProfiles() ([]*agent.Profile, error) {
	dir := s.cfg.Agent.ProfilesDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profiles dir %s: %w", dir, err)
	}

	var profiles []*agent.Profile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		p, err := agent.LoadProfile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yml"), ".yaml")
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// loadProfile finds a profile by name in the profiles directory.
func (s *Server) loadProfile(name string) (*agent.Profile, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.cfg.Agent.ProfilesDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return agent.LoadProfile(path)
		}
	}
	return nil, fmt.Errorf("agent profile not found: %s", name)
}

// buildClient creates the LLM client for a profile, falling back to the
// default provider and model when the profile leaves them blank.
func (s *Server) buildClient(p *agent.Profile) (llm.Client, error) {
	provider, err := s.cfg.Provider(p.Provider)
	if err != nil {
		return nil, err
	}
	model := p.Model
	if model == "" {
		model = provider.Models["default"]
	}
	return llm.NewClient(provider.BaseURL, provider.APIKey, model), nil
}

// assembleAgent builds a fresh agent for one profile. The caller must call
// the release function when the run is over.
func (s *Server) assembleAgent(ctx context.Context, p *agent.Profile) (*agent.Agent, func(), error) {
	client, err := s.buildClient(p)
	if err != nil {
		return nil, nil, err
	}
	if p.MaxIter <= 0 {
		p.MaxIter = s.cfg.Agent.MaxIterations
	}
	return agent.Assemble(ctx, s.registry, client, p)
}

// recordRun persists one finished agent invocation. Failures are returned to
// the caller so the handler can decide whether they matter.
func (s *Server) recordRun(ctx context.Context, agentName, message, response string, toolsUsed []string, runErr error, started time.Time) *storage.Run {
	run := &storage.Run{
		ID:         uuid.New().String(),
		Agent:      agentName,
		Message:    message,
		Response:   response,
		Status:     storage.StatusCompleted,
		ToolsUsed:  toolsUsed,
		CreatedAt:  started.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
	}
	if runErr != nil {
		run.Status = storage.StatusFailed
		run.Error = runErr.Error()
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		// History is best effort; the response still goes out.
		log.Printf("recording run: %v", err)
	}
	return run
}
