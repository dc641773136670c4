package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"subtitle-orchestrator/pkg/api"
	"subtitle-orchestrator/pkg/config"
	"subtitle-orchestrator/pkg/limiter"
	"subtitle-orchestrator/pkg/lock"
	"subtitle-orchestrator/pkg/pipeline"
	"subtitle-orchestrator/pkg/session"
	"subtitle-orchestrator/pkg/storage"
	"subtitle-orchestrator/pkg/tracker"
	"subtitle-orchestrator/pkg/translation"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Translation.APIKey == "" {
		log.Println("Warning: GEMINI_API_KEY is not set, translation requests will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	// Start translation workers
	pool := pipeline.NewWorkerPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	pool.Start(ctx)
	defer pool.Stop()

	sessions := session.NewManager(store, cfg.Upload)
	lim := limiter.New(cfg.Limiter.Capacity)
	dispatcher := pipeline.NewDispatcher(cfg, pipeline.Deps{
		Store:      store,
		Sessions:   sessions,
		Tracker:    tracker.NewTracker(store, cfg.Pipeline.ReadConcurrency),
		Locker:     lock.NewObjectLock(store, cfg.Lock.TTL),
		Translator: translation.NewGeminiClient(cfg.Translation),
		Limiter:    lim,
		Executor:   pool,
	})

	router := mux.NewRouter()
	api.NewHandlers(cfg, sessions, dispatcher, lim).Register(router)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
