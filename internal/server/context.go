package server

import (
	"log/slog"
	"net/http"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
	"github.com/giantswarm/scaffold-bench/internal/kserve"
	"github.com/giantswarm/scaffold-bench/internal/runner"
)

// ServerContext holds shared dependencies for the HTTP API and MCP tool handlers.
type ServerContext struct {
	Runs *runner.Service

	// Discoverer is nil when no cluster is reachable.
	Discoverer *kserve.Discoverer

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// BenchmarkInfo describes a selectable benchmark.
type BenchmarkInfo struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Version       string `json:"version,omitempty"`
	QuestionCount int    `json:"question_count"`
}

// ModelInfo describes a selectable model.
type ModelInfo struct {
	Name             string  `json:"name"`
	InputPerMTok     float64 `json:"input_per_mtok"`
	OutputPerMTok    float64 `json:"output_per_mtok"`
	InferenceService string  `json:"inference_service,omitempty"`
}

// BenchmarkInfos describes every loadable benchmark.
func (sc *ServerContext) BenchmarkInfos() ([]BenchmarkInfo, error) {
	names, err := sc.Runs.Benchmarks()
	if err != nil {
		return nil, err
	}
	infos := make([]BenchmarkInfo, 0, len(names))
	for _, name := range names {
		b, err := benchmark.Load(name, sc.Runs.BenchmarkDir())
		if err != nil {
			slog.Warn("skipping unloadable benchmark", "name", name, "error", err)
			continue
		}
		infos = append(infos, BenchmarkInfo{
			Name:          name,
			Title:         b.Name,
			Description:   b.Description,
			Version:       b.Version,
			QuestionCount: len(b.Questions),
		})
	}
	return infos, nil
}

// ModelInfos describes the catalog models with their prices.
func (sc *ServerContext) ModelInfos() []ModelInfo {
	models := sc.Runs.Catalog().Models()
	infos := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		infos = append(infos, ModelInfo{
			Name:             m.Name,
			InputPerMTok:     m.InputPerMTok,
			OutputPerMTok:    m.OutputPerMTok,
			InferenceService: m.InferenceService,
		})
	}
	return infos
}
