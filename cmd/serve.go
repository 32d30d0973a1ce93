package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/kserve"
	mcptools "github.com/giantswarm/scaffold-bench/internal/mcp"
	"github.com/giantswarm/scaffold-bench/internal/server"
	"github.com/giantswarm/scaffold-bench/internal/telemetry"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

func newServeCmd() *cobra.Command {
	var (
		transport    string
		httpAddr     string
		httpEndpoint string
		inCluster    bool
		debug        bool
		endpoint     string
		apiKey       string
		fallback     bool
		readyTimeout time.Duration

		enableOAuth     bool
		oauthBaseURL    string
		oauthProvider   string
		dexIssuerURL    string
		dexClientID     string
		dexClientSecret string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server and HTTP API",
		Long: `Start the MCP server exposing the evaluation tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default, for IDE integration)
  - streamable-http: HTTP with streaming support, plus the NDJSON run API
    (POST /api/run-test) and Prometheus metrics (/metrics)

When using streamable-http transport, OAuth 2.1 authentication can be enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}

			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			recorder, err := telemetry.NewPrometheus()
			if err != nil {
				return fmt.Errorf("failed to create metrics: %w", err)
			}

			discoverer := newDiscoverer(cmd, cat, inCluster)
			sc := &server.ServerContext{
				Runs: newService(cmd, serviceOptions{
					catalog: cat,
					factory: clientFactory{
						endpoint:     endpoint,
						apiKey:       apiKey,
						discoverer:   discoverer,
						readyTimeout: readyTimeout,
					},
					invoker:  []invoker.Option{invoker.WithFallbackExtraction(fallback)},
					recorder: recorder,
				}),
				Discoverer: discoverer,
				Metrics:    recorder.Handler(),
			}

			mcpSrv := mcpserver.NewMCPServer("scaffold-bench", rootCmd.Version,
				mcpserver.WithToolCapabilities(true),
			)
			if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
				return fmt.Errorf("failed to register MCP tools: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			switch transport {
			case transportStdio:
				if err := mcpserver.ServeStdio(mcpSrv); err != nil {
					return fmt.Errorf("server stopped with error: %w", err)
				}
				return nil
			case transportStreamableHTTP:
				routes := server.Routes{
					Context: sc,
					MCP: mcpserver.NewStreamableHTTPServer(mcpSrv,
						mcpserver.WithEndpointPath(httpEndpoint),
					),
					MCPEndpoint: httpEndpoint,
				}
				if enableOAuth {
					return runOAuthHTTPServer(ctx, routes, httpAddr, oauthConfig{
						baseURL:         oauthBaseURL,
						provider:        oauthProvider,
						dexIssuerURL:    dexIssuerURL,
						dexClientID:     dexClientID,
						dexClientSecret: dexClientSecret,
					})
				}
				return runHTTPServer(ctx, routes, httpAddr)
			default:
				return fmt.Errorf("unsupported transport: %s (supported: stdio, streamable-http)", transport)
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	f.StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http)")
	f.StringVar(&httpEndpoint, "http-endpoint", "/mcp", "MCP endpoint path (for streamable-http)")
	f.BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")
	f.BoolVar(&debug, "debug", false, "Enable debug logging")
	f.StringVar(&endpoint, "endpoint", "", "OpenAI-compatible endpoint for models without their own base URL")
	f.StringVar(&apiKey, "api-key", "", "API key (default: $OPENAI_API_KEY)")
	f.BoolVar(&fallback, "fallback-extraction", false, "Ask the model for the answer letter when it cannot be parsed")
	f.DurationVar(&readyTimeout, "ready-timeout", kserve.DefaultReadyTimeout, "How long to wait for a KServe InferenceService to become ready")

	f.BoolVar(&enableOAuth, "enable-oauth", false, "Enable OAuth 2.1 authentication (for HTTP transport)")
	f.StringVar(&oauthBaseURL, "oauth-base-url", "", "OAuth base URL (e.g. https://bench.example.com)")
	f.StringVar(&oauthProvider, "oauth-provider", server.OAuthProviderDex, "OAuth provider: dex")
	f.StringVar(&dexIssuerURL, "dex-issuer-url", "", "Dex OIDC issuer URL")
	f.StringVar(&dexClientID, "dex-client-id", "", "Dex OAuth client ID")
	f.StringVar(&dexClientSecret, "dex-client-secret", "", "Dex OAuth client secret")

	return cmd
}

// serveUntilDone runs serve until it fails or ctx is cancelled, then shuts
// down within the default shutdown timeout.
func serveUntilDone(ctx context.Context, serve func() error, shutdown func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func runHTTPServer(ctx context.Context, routes server.Routes, addr string) error {
	mux := http.NewServeMux()
	routes.Register(mux)
	httpServer := server.NewHTTPServer(addr, mux)

	slog.Info("HTTP server starting",
		"addr", addr,
		"mcp_endpoint", routes.MCPEndpoint,
		"api", "/api/run-test",
		"health", "/healthz",
		"metrics", "/metrics",
	)

	if err := serveUntilDone(ctx, httpServer.ListenAndServe, httpServer.Shutdown); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

type oauthConfig struct {
	baseURL         string
	provider        string
	dexIssuerURL    string
	dexClientID     string
	dexClientSecret string
}

// withEnv fills unset credentials from the environment.
func (c oauthConfig) withEnv() oauthConfig {
	if c.dexIssuerURL == "" {
		c.dexIssuerURL = os.Getenv("DEX_ISSUER_URL")
	}
	if c.dexClientID == "" {
		c.dexClientID = os.Getenv("DEX_CLIENT_ID")
	}
	if c.dexClientSecret == "" {
		c.dexClientSecret = os.Getenv("DEX_CLIENT_SECRET")
	}
	return c
}

func (c oauthConfig) validate() error {
	switch {
	case c.baseURL == "":
		return fmt.Errorf("--oauth-base-url is required when --enable-oauth is set")
	case c.dexIssuerURL == "":
		return fmt.Errorf("dex issuer URL is required (--dex-issuer-url or DEX_ISSUER_URL)")
	case c.dexClientID == "":
		return fmt.Errorf("dex client ID is required (--dex-client-id or DEX_CLIENT_ID)")
	case c.dexClientSecret == "":
		return fmt.Errorf("dex client secret is required (--dex-client-secret or DEX_CLIENT_SECRET)")
	}
	return nil
}

func runOAuthHTTPServer(ctx context.Context, routes server.Routes, addr string, cfg oauthConfig) error {
	cfg = cfg.withEnv()
	if err := cfg.validate(); err != nil {
		return err
	}

	oauthSrv, err := server.NewOAuthHTTPServer(routes, server.OAuthConfig{
		BaseURL:         cfg.baseURL,
		Provider:        cfg.provider,
		DexIssuerURL:    cfg.dexIssuerURL,
		DexClientID:     cfg.dexClientID,
		DexClientSecret: cfg.dexClientSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}

	slog.Info("OAuth-enabled HTTP server starting",
		"addr", addr,
		"base_url", cfg.baseURL,
		"provider", cfg.provider,
		"mcp_endpoint", routes.MCPEndpoint,
	)

	if err := serveUntilDone(ctx, func() error { return oauthSrv.Start(addr) }, oauthSrv.Shutdown); err != nil {
		return fmt.Errorf("OAuth HTTP server error: %w", err)
	}
	slog.Info("OAuth HTTP server stopped")
	return nil
}
