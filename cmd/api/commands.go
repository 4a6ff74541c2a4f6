package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thejerf/suture/v4"

	"github.com/melih/lighthouse-updater/internal/adapters/http"
	"github.com/melih/lighthouse-updater/internal/config"
	"github.com/melih/lighthouse-updater/internal/core/domain"
)

func newServeCmd(v *viper.Viper, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the update API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().String("listen", ":3000", "address the API listens on")
	_ = v.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func newCheckCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the installed version with the latest published one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build(*cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			check, err := c.orchestrator.CheckVersion(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, check)
		},
	}
}

func newUpdateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Run one update session",
		Long: "Runs one update session and prints its result. The renamed backup container " +
			"is kept; the serve command removes backups after the cleanup delay.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build(*cfg, withoutCleanup())
			if err != nil {
				return err
			}
			defer c.Close()

			result := c.orchestrator.PerformUpdate(cmd.Context())
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("update %s: %s", result.Outcome, result.Error)
			}
			if result.Outcome == domain.OutcomeUpdated {
				log.Infof("Backup container %s kept for manual removal", result.BackupContainer)
			}
			return nil
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	// The root supervisor owns background work that outlives requests.
	root := suture.NewSimple("lighthouse-updater")
	root.Add(c.cleanup)
	supervisorDone := root.ServeBackground(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	http.NewUpdateHandler(c.orchestrator, c.runtime, c.activity).Register(app)

	listenErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", cfg.Server.Listen)
		listenErr <- app.Listen(cfg.Server.Listen)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	if err := app.Shutdown(); err != nil {
		log.WithError(err).Warn("Server shutdown failed")
	}
	if c.orchestrator.Busy() {
		log.Warn("Exiting while an update session is running")
	}
	if err := <-supervisorDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
