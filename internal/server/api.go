package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/report"
	"github.com/giantswarm/scaffold-bench/internal/runner"
	"github.com/giantswarm/scaffold-bench/internal/stream"
)

const maxRequestBody = 1 << 20

// Routes mounts the API, MCP and operational endpoints.
type Routes struct {
	Context *ServerContext

	// MCP is mounted at MCPEndpoint when set.
	MCP         http.Handler
	MCPEndpoint string

	// Protect wraps every endpoint except /healthz and /metrics.
	Protect func(http.Handler) http.Handler
}

// Register adds the routes to mux.
func (rt Routes) Register(mux *http.ServeMux) {
	protect := rt.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	sc := rt.Context

	mux.Handle("POST /api/run-test", protect(http.HandlerFunc(sc.handleRunTest)))
	mux.Handle("GET /api/benchmarks", protect(http.HandlerFunc(sc.handleBenchmarks)))
	mux.Handle("GET /api/models", protect(http.HandlerFunc(sc.handleModels)))
	mux.Handle("GET /api/runs", protect(http.HandlerFunc(sc.handleRuns)))
	mux.Handle("GET /api/runs/{id}", protect(http.HandlerFunc(sc.handleRun)))
	mux.Handle("DELETE /api/checkpoint", protect(http.HandlerFunc(sc.handleResetCheckpoint)))

	if rt.MCP != nil && rt.MCPEndpoint != "" {
		mux.Handle(rt.MCPEndpoint, protect(rt.MCP))
	}
	if sc.Metrics != nil {
		mux.Handle("GET /metrics", sc.Metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// handleRunTest starts a run and streams its events as NDJSON. Configuration
// problems arrive in-stream as an error event; only a busy harness is
// rejected before streaming starts.
func (sc *ServerContext) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var cfg evaluation.RunConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid run configuration: %v", err))
		return
	}

	events, err := sc.Runs.Start(r.Context(), cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runner.ErrRunInProgress) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	stream.PrepareResponse(w)
	w.WriteHeader(http.StatusOK)
	last, err := stream.NewEncoder(w).Drain(events)
	if err != nil {
		slog.Warn("event stream ended early", "error", err, "last_event", last.Type)
	}
}

func (sc *ServerContext) handleBenchmarks(w http.ResponseWriter, _ *http.Request) {
	infos, err := sc.BenchmarkInfos()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (sc *ServerContext) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sc.ModelInfos())
}

func (sc *ServerContext) handleRuns(w http.ResponseWriter, _ *http.Request) {
	runs, err := report.ListRuns(sc.Runs.OutputDir())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []report.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (sc *ServerContext) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := report.ReadRun(sc.Runs.OutputDir(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (sc *ServerContext) handleResetCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Benchmark string `json:"benchmark"`
		Model     string `json:"model"`
		PrePrompt string `json:"pre_prompt"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Benchmark == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "benchmark and model are required")
		return
	}

	path, err := sc.Runs.ResetCheckpoint(req.Benchmark, req.Model, req.PrePrompt)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runner.ErrRunInProgress) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": path})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
