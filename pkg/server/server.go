// Package server is the public entry point for composing a context store
// process: config, storage engine, schema, identity layer, service
// surface, retention janitor, and the ops HTTP sidecar, wired in order.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	go srv.Janitor.Start(ctx)
//	http.ListenAndServe(srv.Addr(), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/meshvault/meshvault/internal/auth"
	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/notify"
	"github.com/meshvault/meshvault/internal/ops"
	"github.com/meshvault/meshvault/internal/retention"
	"github.com/meshvault/meshvault/internal/service"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/internal/store"
	"github.com/meshvault/meshvault/internal/telemetry"
)

// Server holds every initialized component of a context store process.
type Server struct {
	// Handler is the ops HTTP surface (health, version, status).
	Handler http.Handler

	// Service is the operation surface agents call through whatever
	// transport fronts this process.
	Service *service.Service

	// Engine is the storage engine. Exposed for context scoping via
	// storage.WithEngine.
	Engine *storage.Engine

	// Janitor runs retention sweeps; start it on its own goroutine.
	Janitor *retention.Janitor

	// Registry tracks live subscriptions.
	Registry *notify.Registry

	// Config is the validated runtime configuration.
	Config *config.Config

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New loads config from the environment and initializes all components.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes all components from an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	eng, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := eng.Initialize(ctx); err != nil {
		eng.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	log.Info().Str("backend", cfg.Storage.Backend).Str("path", cfg.Storage.Path).
		Msg("✅ Storage engine initialized")

	st := store.New(eng, cfg.Limits)

	signer := auth.NewSigner([]byte(cfg.Auth.SigningSecret),
		cfg.Auth.TokenTTL, cfg.Auth.Leeway, cfg.Auth.Issuer, cfg.Auth.Audience)

	var vault *auth.Vault
	if key := cfg.Auth.EncryptionKeyBytes(); key != nil {
		if vault, err = auth.NewVault(key); err != nil {
			eng.Close()
			return nil, fmt.Errorf("init vault: %w", err)
		}
		log.Info().Msg("✅ Token-at-rest vault enabled")
	}

	authority := auth.NewAuthority(signer, vault, st)
	svc := service.New(st, authority)
	log.Info().Msg("✅ Identity layer initialized")

	registry := notify.NewRegistry()

	janitor, err := retention.NewJanitor(st, authority, registry, cfg.Retention)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("init janitor: %w", err)
	}

	return &Server{
		Handler:      ops.NewRouter(cfg, eng, janitor, registry),
		Service:      svc,
		Engine:       eng,
		Janitor:      janitor,
		Registry:     registry,
		Config:       cfg,
		ShutdownFunc: shutdown,
	}, nil
}

// Addr is the listen address for the ops surface.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.Config.Port)
}

// Close releases the storage engine.
func (s *Server) Close() error {
	return s.Engine.Close()
}
