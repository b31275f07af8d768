package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmorgan/crucible/internal/config"
	"github.com/jmorgan/crucible/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Tool catalog handlers ---

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListTools())
}

func (s *Server) handleToolCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.CacheSnapshot())
}

func (s *Server) handleReloadTools(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rereading config: %v", err))
		return
	}

	summary, err := s.registry.Reload(r.Context(), cfg.MCPServers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reloading tools: %v", err))
		return
	}

	s.cfg.MCPServers = cfg.MCPServers
	writeJSON(w, http.StatusOK, summary)
}

// --- Agent handlers ---

type agentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Model       string   `json:"model,omitempty"`
	Tools       []string `json:"tools"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.listProfiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	infos := make([]agentInfo, 0, len(profiles))
	for _, p := range profiles {
		infos = append(infos, agentInfo{
			Name:        p.Name,
			Description: p.Description,
			Model:       p.Model,
			Tools:       p.Tools,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

type runRequest struct {
	Message string `json:"message"`
}

type runResponse struct {
	RunID     string   `json:"run_id"`
	Response  string   `json:"response"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	profile, err := s.loadProfile(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	a, release, err := s.assembleAgent(r.Context(), profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("assembling agent: %v", err))
		return
	}
	defer release()

	var toolsUsed []string
	a.OnToolCall = func(toolName string, args map[string]any) {
		toolsUsed = append(toolsUsed, toolName)
	}

	started := time.Now()
	response, runErr := a.Run(r.Context(), req.Message)
	run := s.recordRun(r.Context(), name, req.Message, response, toolsUsed, runErr, started)

	if runErr != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("agent error: %v", runErr))
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		RunID:     run.ID,
		Response:  response,
		ToolsUsed: toolsUsed,
	})
}

// --- Run history handlers ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := storage.RunListOptions{
		Agent: r.URL.Query().Get("agent"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.RunStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Provider handlers ---

type providerInfo struct {
	Name     string            `json:"name"`
	Models   map[string]string `json:"models"`
	IsOllama bool              `json:"is_ollama"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	var providers []providerInfo
	for name, p := range s.cfg.Providers {
		providers = append(providers, providerInfo{
			Name:     name,
			Models:   p.Models,
			IsOllama: p.IsOllama(),
		})
	}
	writeJSON(w, http.StatusOK, providers)
}
