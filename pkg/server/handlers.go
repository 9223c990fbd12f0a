package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/invopop/jsonschema"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/params"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// resolveRequest resolves either free text or an explicit descriptor id
type resolveRequest struct {
	Text string            `json:"text"`
	ID   string            `json:"id,omitempty"`
	Args map[string]string `json:"args,omitempty"`
}

type executeResponse struct {
	Plan    *capability.Plan    `json:"plan"`
	Results []capability.Result `json:"results"`
}

type capabilitySummary struct {
	ID          string              `json:"id"`
	Kind        capability.Kind     `json:"kind"`
	Description string              `json:"description"`
	Version     string              `json:"version,omitempty"`
	Flow        capability.FlowKind `json:"flow"`
	Triggers    []string            `json:"activation_triggers,omitempty"`
}

type capabilityDetail struct {
	*capability.Descriptor
	Schema   *jsonschema.Schema `json:"schema"`
	BondedTo []string           `json:"bonded_to,omitempty"`
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*capability.Plan, bool) {
	ctx := r.Context()

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(ctx, w, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.Text == "" && req.ID == "" {
		writeBadRequest(ctx, w, "either text or id is required")
		return nil, false
	}

	var (
		plan *capability.Plan
		err  error
	)
	if req.ID != "" {
		plan, err = s.engine.ResolveID(ctx, req.ID, req.Text, req.Args)
	} else {
		plan, err = s.engine.Resolve(ctx, req.Text, req.Args)
	}
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	return plan, true
}

// handleResolve handles POST /api/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, plan)
}

// handleExecute handles POST /api/execute
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.resolve(w, r)
	if !ok {
		return
	}

	results, err := s.engine.Execute(r.Context(), plan)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, executeResponse{Plan: plan, Results: results})
}

// handleListCapabilities handles GET /api/capabilities
func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	if snap == nil {
		writeError(r.Context(), w, engine.ErrNotLoaded)
		return
	}

	kind := r.URL.Query().Get("kind")
	summaries := make([]capabilitySummary, 0, snap.Registry.Len())
	for _, d := range snap.Registry.All() {
		if kind != "" && string(d.Kind) != kind {
			continue
		}
		summaries = append(summaries, capabilitySummary{
			ID:          d.ID,
			Kind:        d.Kind,
			Description: d.Description,
			Version:     d.Version,
			Flow:        d.FlowOrDefault(),
			Triggers:    d.ActivationTriggers,
		})
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"capabilities": summaries,
		"total":        len(summaries),
		"loaded_at":    snap.LoadedAt,
	})
}

// handleGetCapability handles GET /api/capabilities/{id}
func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	if snap == nil {
		writeError(r.Context(), w, engine.ErrNotLoaded)
		return
	}

	d, err := snap.Registry.Lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, capabilityDetail{
		Descriptor: d,
		Schema:     params.JSONSchema(d),
		BondedTo:   snap.Bonds.ReverseLookup(d.ID),
	})
}

// handleListExecutions handles GET /api/executions
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Error: "auditing is disabled", Status: http.StatusNotFound})
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeBadRequest(r.Context(), w, err.Error())
		return
	}

	executions, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"executions": executions})
}

// handleGetExecution handles GET /api/executions/{id}
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Error: "auditing is disabled", Status: http.StatusNotFound})
		return
	}
	execution, err := s.history.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, execution)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if snap := s.engine.Snapshot(); snap != nil {
		body["capabilities"] = snap.Registry.Len()
		body["warnings"] = len(snap.Warnings)
	} else {
		status = http.StatusServiceUnavailable
		body["status"] = "loading"
	}
	if stats := processStats(r.Context()); stats != nil {
		body["process"] = stats
	}
	writeJSON(r.Context(), w, status, body)
}

// processStats reports the resident memory and uptime of this process.
// It returns nil when the stats are unavailable on this platform.
func processStats(ctx context.Context) map[string]any {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		logger.G(ctx).WithError(err).Debug("failed to inspect own process")
		return nil
	}
	stats := map[string]any{"pid": proc.Pid}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		stats["rss_bytes"] = mem.RSS
	}
	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		stats["uptime_seconds"] = int64(time.Since(time.UnixMilli(created)).Seconds())
	}
	return stats
}
