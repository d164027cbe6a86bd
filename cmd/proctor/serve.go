package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/proctor/internal/app"
	"github.com/ent0n29/proctor/internal/config"
	"github.com/ent0n29/proctor/internal/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the interview API",
		Long: `Serve the HTTP and websocket API. Settings come from the environment,
an optional .env file and the YAML file named by PROCTOR_CONFIG_FILE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)

	built, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.WithError(err).Warn("cleanup failed")
		}
	}()
	logger.WithFields(logrus.Fields{
		"backend":  built.Backend,
		"voice":    built.Voice.Detail,
		"voice_id": built.Voice.DefaultVoiceID,
	}).Info("providers ready")

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	built.Registry.StartJanitor(runCtx, cfg.AttemptJanitorInterval)

	listenErr := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutdown signal received")
	case err := <-listenErr:
		return fmt.Errorf("listen error: %w", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Running attempts are terminated and reported before the process exits.
	if err := built.Registry.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("attempts did not finish before shutdown timeout")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Infof("shutdown complete")
	return nil
}
