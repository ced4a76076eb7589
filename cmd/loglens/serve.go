package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/loglens/loglens/config"
	"github.com/ZanzyTHEbar/loglens/loglens/generation/harness"
	"github.com/ZanzyTHEbar/loglens/loglens/server"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			fmt.Fprintln(cmd.ErrOrStderr(), "fatal:", err)
			os.Exit(2)
		}
		return err
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())

	factory := harness.NewFactory(cfg, logger)
	store := factory.CreateStore()
	orchestrator, err := factory.CreateOrchestrator(nil, store)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.Start(ctx)
	defer store.Shutdown()

	config.Watch(logger, func(next *config.Config) {
		if err := next.Validate(); err != nil {
			logger.Warn().Err(err).Msg("ignoring invalid config reload")
			return
		}
		orchestrator.Builder().SetTemplates(harness.TemplatesFromConfig(next.Qwen.Prompt))
		logger.Info().Msg("prompt templates reloaded")
	})

	handler := server.NewServer(orchestrator, store, orchestrator.Metrics(), cfg.Server, logger.With().Str("component", "http").Logger())
	httpSrv := server.NewHTTPServer(cfg.Server, handler)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("model", cfg.Qwen.Model).
			Int("retry_count", cfg.Qwen.Retry.Count).
			Msg("loglens listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
