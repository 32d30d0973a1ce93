package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/scaffold-bench/internal/catalog"
	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/kserve"
	"github.com/giantswarm/scaffold-bench/internal/llm"
	"github.com/giantswarm/scaffold-bench/internal/runner"
	"github.com/giantswarm/scaffold-bench/internal/telemetry"
)

// clientFactory builds the LLM client of a catalog model. Models served by
// KServe are resolved through the cluster; others use the model's base URL,
// the --endpoint flag, or the OpenAI default.
type clientFactory struct {
	endpoint     string
	apiKey       string
	dryRun       bool
	discoverer   *kserve.Discoverer
	readyTimeout time.Duration
}

func (f clientFactory) ClientForModel(ctx context.Context, m catalog.Model) (llm.Client, error) {
	if f.dryRun {
		slog.Info("dry run: using simulated model responses", "model", m.Name)
		return &llm.SimulatedClient{}, nil
	}

	opts := []llm.Option{llm.WithModel(m.RequestModel())}
	switch {
	case m.InferenceService != "":
		if f.discoverer == nil {
			return nil, fmt.Errorf("model %s is served by InferenceService %s but no cluster is configured", m.Name, m.InferenceService)
		}
		url, err := f.discoverer.Resolve(ctx, m.InferenceService, f.readyTimeout)
		if err != nil {
			return nil, err
		}
		slog.Info("discovered KServe endpoint", "model", m.Name, "endpoint", url)
		opts = append(opts, llm.WithBaseURL(url))
	case m.BaseURL != "":
		opts = append(opts, llm.WithBaseURL(m.BaseURL))
	case f.endpoint != "":
		opts = append(opts, llm.WithBaseURL(f.endpoint))
	}

	if f.apiKey != "" {
		opts = append(opts, llm.WithAPIKey(f.apiKey))
	} else if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		opts = append(opts, llm.WithAPIKey(envKey))
	}
	return llm.NewOpenAIClient(opts...), nil
}

// loadCatalog returns the catalog named by --catalog, or the built-in one.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, _ := cmd.Flags().GetString("catalog")
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

// newDiscoverer connects to the cluster when the catalog has KServe models.
// A missing cluster is not fatal; only those models become unavailable.
func newDiscoverer(cmd *cobra.Command, cat *catalog.Catalog, inCluster bool) *kserve.Discoverer {
	needed := inCluster
	for _, m := range cat.Models() {
		if m.InferenceService != "" {
			needed = true
		}
	}
	if !needed {
		return nil
	}

	namespace, _ := cmd.Flags().GetString("namespace")
	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")
	d, err := kserve.NewDiscoverer(namespace, kubeconfig, inCluster)
	if err != nil {
		slog.Warn("KServe discovery not available", "error", err)
		return nil
	}
	return d
}

type serviceOptions struct {
	factory  clientFactory
	invoker  []invoker.Option
	recorder telemetry.Recorder
	catalog  *catalog.Catalog
}

func newService(cmd *cobra.Command, o serviceOptions) *runner.Service {
	benchmarksDir, _ := cmd.Flags().GetString("benchmarks-dir")
	checkpointDir, _ := cmd.Flags().GetString("checkpoint-dir")
	outputDir, _ := cmd.Flags().GetString("output-dir")

	return runner.NewService(runner.ServiceConfig{
		Catalog:        o.catalog,
		ClientForModel: o.factory.ClientForModel,
		BenchmarkDir:   benchmarksDir,
		CheckpointDir:  checkpointDir,
		OutputDir:      outputDir,
		InvokerOptions: o.invoker,
		Recorder:       o.recorder,
	})
}
