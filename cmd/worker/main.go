// The worker service executes queued tasks: the document pipeline,
// duplicate-decision callbacks, onboarding and invoice-generation
// conversations, and the admin invite-code surface.
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
	"github.com/kvitly/backend/internal/events"
	"github.com/kvitly/backend/internal/invoicegen"
	"github.com/kvitly/backend/internal/llm"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/onboarding"
	"github.com/kvitly/backend/internal/pipeline"
	"github.com/kvitly/backend/internal/report"
	"github.com/kvitly/backend/internal/sheets"
	"github.com/kvitly/backend/internal/storage"
	"github.com/kvitly/backend/internal/telegram"
	"github.com/kvitly/backend/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logging.New(cfg.Environment, "worker")
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(config.RoleWorker); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx := context.Background()

	db, err := database.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatalw("firestore init failed", "error", err)
	}
	defer db.Close()

	objects, err := storage.New(ctx)
	if err != nil {
		log.Fatalw("storage init failed", "error", err)
	}
	defer objects.Close()
	invoicesBucket := objects.Bucket(cfg.InvoicesBucket)
	logosBucket := objects.Bucket(cfg.LogosBucket)

	sheetClient, err := sheets.New(ctx)
	if err != nil {
		log.Fatalw("sheets init failed", "error", err)
	}

	chat := telegram.NewClient(cfg.BotToken)

	extractor := llm.NewExtractor(buildProviders(ctx, cfg, log))

	publisher, err := events.New(ctx, cfg.ProjectID, cfg.EventsTopic)
	if err != nil {
		log.Fatalw("events init failed", "error", err)
	}
	defer publisher.Close()

	pipe := pipeline.New(db.Jobs(), db.Configs(), chat, invoicesBucket, sheetClient,
		extractor, db.Callbacks(), publisher, pipeline.NewMetrics(), cfg.AdminSpreadsheetID)

	onboard := onboarding.New(db.Onboarding(), db.Tenants(), db.Invites(), chat,
		sheetClient, logosBucket, db, cfg.ServiceAccountEmail)

	renderer, err := invoicegen.NewRenderer(cfg.ChromeWSURL, cfg.RendererURL)
	if err != nil {
		log.Fatalw("renderer init failed", "error", err)
	}
	gen := invoicegen.New(db.InvoiceGen(), db.Configs(), db.Counters(), db.Invoices(),
		sheetClient, invoicesBucket, logosBucket, chat, renderer, db.Callbacks(), publisher)

	reports := report.New(db.Jobs(), db.Configs(), chat)

	srv := worker.NewServer(pipe, onboard, gen, reports, db.Invites(),
		cfg.MaxRetries, cfg.AdminPasswordHash, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
		// Read/write bounds sit above the longest pipeline run, not the
		// usual interactive 15s.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("worker listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

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

// buildProviders assembles the primary/fallback model pair from whichever
// API keys are configured. Validation already guaranteed at least one.
func buildProviders(ctx context.Context, cfg *config.Config, log *logging.Logger) (llm.Provider, llm.Provider) {
	var gemini, openai llm.Provider
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalw("gemini init failed", "error", err)
		}
		gemini = g
	}
	if cfg.OpenAIAPIKey != "" {
		openai = llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	if gemini != nil {
		return gemini, openai
	}
	return openai, nil
}
