package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/scaffold-bench/internal/server"
)

func registerCatalogTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	s.AddTool(mcp.NewTool("list_benchmarks",
		mcp.WithDescription("List the multiple-choice benchmarks available for evaluation"),
	), bind(sc, handleListBenchmarks))

	s.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List the models that can be evaluated, with their per-million-token prices"),
	), bind(sc, handleListModels))

	s.AddTool(mcp.NewTool("list_endpoints",
		mcp.WithDescription("List KServe InferenceServices in the namespace and whether they are ready to serve"),
	), bind(sc, handleListEndpoints))
}

func handleListBenchmarks(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	infos, err := sc.BenchmarkInfos()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list benchmarks: %v", err)), nil
	}
	return jsonResult(infos)
}

func handleListModels(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	return jsonResult(sc.ModelInfos())
}

func handleListEndpoints(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Discoverer == nil {
		return mcp.NewToolResultError("KServe discovery is not configured (no cluster access)"), nil
	}
	endpoints, err := sc.Discoverer.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list endpoints: %v", err)), nil
	}
	return jsonResult(endpoints)
}
