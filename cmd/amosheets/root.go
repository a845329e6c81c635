package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evgenich/amosheets/internal/amocrm"
	"github.com/evgenich/amosheets/internal/api"
	"github.com/evgenich/amosheets/internal/config"
	"github.com/evgenich/amosheets/internal/journal"
	"github.com/evgenich/amosheets/internal/sheets"
	"github.com/evgenich/amosheets/internal/syncer"
	"github.com/evgenich/amosheets/internal/token"
	"github.com/evgenich/amosheets/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "amosheets",
	Short: "amosheets - amoCRM to Google Sheets sync relay",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "environment", cfg.Sync.Environment)

	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	slog.Info("journal opened", "path", cfg.Journal.Path)

	tokens := token.NewManager(token.Options{
		Domain:       cfg.Amo.Domain,
		ClientID:     cfg.Amo.ClientID,
		ClientSecret: cfg.Amo.ClientSecret,
		RedirectURI:  cfg.Amo.RedirectURI,
		AccessToken:  cfg.Amo.AccessToken,
		RefreshToken: cfg.Amo.RefreshToken,
		RefreshLead:  time.Duration(cfg.Token.RefreshLead),
	})

	crm := amocrm.NewClient(amocrm.Options{
		Domain: cfg.Amo.Domain,
		Tokens: tokens,
	})

	values, err := sheets.NewGoogleValues(ctx, []byte(cfg.Google.CredentialsJSON), cfg.Google.SheetID)
	if err != nil {
		return fmt.Errorf("init sheets service: %w", err)
	}
	store := sheets.NewStore(values)
	retry := sheets.NewExecutor(values)
	audit := sheets.NewAuditLog(values, cfg.Sync.Environment)
	slog.Info("sheets service initialized", "sheet_id", cfg.Google.SheetID)

	filter := syncer.NewPipelineFilter(crm, cfg.Sync.PipelineName, cfg.Sync.DebugSkipFilter)
	formatter := syncer.NewFormatter(crm)
	orchestrator := syncer.NewOrchestrator(crm, filter, formatter, store, retry, audit, jrnl)

	handler := api.NewHandler(orchestrator, tokens, crm, store, jrnl, api.StatusConfig{
		Environment:  cfg.Sync.Environment,
		PipelineName: cfg.Sync.PipelineName,
		SheetID:      cfg.Google.SheetID,
	}, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	refresher := worker.NewRefreshScheduler(
		tokens,
		time.Duration(cfg.Token.RefreshInterval),
		time.Duration(cfg.Token.BackupInterval),
		time.Duration(cfg.Token.StartupDelay),
		time.Duration(cfg.Token.ForceAfter),
	)
	startWorker(ctx, &wg, "token-refresh", refresher.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := jrnl.Close(); err != nil {
		slog.Error("journal close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
