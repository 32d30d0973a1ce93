package cmd

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeUntilDone_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- serveUntilDone(ctx,
			func() error {
				<-stopped
				return http.ErrServerClosed
			},
			func(context.Context) error {
				close(stopped)
				return nil
			},
		)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeUntilDone_ServeError(t *testing.T) {
	shutdownCalled := false
	err := serveUntilDone(context.Background(),
		func() error { return errors.New("address already in use") },
		func(context.Context) error {
			shutdownCalled = true
			return nil
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.True(t, shutdownCalled)
}

func TestOAuthConfig(t *testing.T) {
	t.Setenv("DEX_ISSUER_URL", "https://dex.example.com")
	t.Setenv("DEX_CLIENT_ID", "env-client")
	t.Setenv("DEX_CLIENT_SECRET", "env-secret")

	cfg := oauthConfig{baseURL: "https://bench.example.com", dexClientID: "flag-client"}.withEnv()
	assert.Equal(t, "https://dex.example.com", cfg.dexIssuerURL)
	assert.Equal(t, "flag-client", cfg.dexClientID)
	assert.Equal(t, "env-secret", cfg.dexClientSecret)
	assert.NoError(t, cfg.validate())

	tests := []struct {
		name    string
		cfg     oauthConfig
		wantErr string
	}{
		{
			name:    "missing base url",
			cfg:     oauthConfig{dexIssuerURL: "i", dexClientID: "c", dexClientSecret: "s"},
			wantErr: "--oauth-base-url",
		},
		{
			name:    "missing issuer",
			cfg:     oauthConfig{baseURL: "b", dexClientID: "c", dexClientSecret: "s"},
			wantErr: "issuer",
		},
		{
			name:    "missing client id",
			cfg:     oauthConfig{baseURL: "b", dexIssuerURL: "i", dexClientSecret: "s"},
			wantErr: "client ID",
		},
		{
			name:    "missing secret",
			cfg:     oauthConfig{baseURL: "b", dexIssuerURL: "i", dexClientID: "c"},
			wantErr: "client secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
