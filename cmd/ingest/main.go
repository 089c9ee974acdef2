// The ingest service terminates the chat platform webhook: authenticate,
// classify, enqueue, acknowledge. It holds no pipeline logic and can be
// scaled independently of the worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kvitly/backend/internal/config"
	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/ingest"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
)

func main() {
	// Local development convenience; in Cloud Run the env is injected.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logging.New(cfg.Environment, "ingest")
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(config.RoleIngest); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx := context.Background()

	db, err := database.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatalw("firestore init failed", "error", err)
	}
	defer db.Close()

	tasks, err := queue.New(ctx, cfg.ProjectID, cfg.QueueLocation, cfg.QueueName, cfg.WorkerBaseURL, cfg.ServiceAccountEmail)
	if err != nil {
		log.Fatalw("cloud tasks init failed", "error", err)
	}
	defer tasks.Close()

	srv := ingest.NewServer(cfg.WebhookSecret, tasks, db.Tenants(), db.Onboarding(), db.InvoiceGen(), log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("ingest listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// Cloud Run sends SIGTERM before killing the instance.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown incomplete", "error", err)
	}
}
