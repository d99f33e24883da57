package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"genflow/pkg/clients/assets"
	"genflow/pkg/clients/provider"
	"genflow/pkg/config"
	"genflow/pkg/db"
	"genflow/services/coordinator"
	"genflow/services/engine"
	"genflow/services/graph"
	"genflow/services/nodes"
	"genflow/services/storage"
	"genflow/services/workflow"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, db.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	pgStore, err := storage.NewInstance(pool)
	if err != nil {
		return err
	}

	coord := coordinator.New(cfg.DebounceDelay, logger)
	graphStore, err := graph.NewStore(pgStore, coord, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	var providerClient provider.Client
	if cfg.ProviderStub {
		slog.Warn("Using stub image provider")
		providerClient = provider.NewStubClient("")
	} else {
		providerClient = provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderRPS, httpClient)
	}
	deps := nodes.Deps{
		Provider: providerClient,
		Assets:   assets.NewHTTPClient(cfg.AssetBaseURL, httpClient),
		Latency:  cfg.PlaceholderLatency,
	}

	executor, err := nodes.NewExecutor(graphStore, deps, logger)
	if err != nil {
		return err
	}
	eng, err := engine.New(graphStore, executor, engine.Options{MaxConcurrency: cfg.MaxConcurrency}, logger)
	if err != nil {
		return err
	}

	// setup router
	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	workflowService, err := workflow.NewService(graphStore, eng)
	if err != nil {
		return err
	}
	workflowService.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
		handlers.AllowCredentials(),
	)(handlers.CombinedLoggingHandler(os.Stdout, mainRouter))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", cfg.ListenAddr, "maxConcurrency", cfg.MaxConcurrency)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
		}

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}

	// Running executions keep writing results until they finish.
	slog.Info("Waiting for running executions")
	eng.Wait()

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := graphStore.Flush(flushCtx); err != nil {
		slog.Error("Failed to flush pending writes", "error", err)
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}
