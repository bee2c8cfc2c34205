package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
	"github.com/rmacdonaldsmith/ejtp-go/internal/httpapi"
	"github.com/rmacdonaldsmith/ejtp-go/internal/node"
	"github.com/rmacdonaldsmith/ejtp-go/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(configPath)
			for key, name := range map[string]string{
				"node_id":       "node-id",
				"log.level":     "log-level",
				"admin.enabled": "admin",
				"admin.port":    "admin-port",
			} {
				if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), loader)
		},
	}

	cmd.Flags().String("node-id", "", "unique node identifier")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().Bool("admin", true, "enable the HTTP admin API")
	cmd.Flags().Int("admin-port", 0, "HTTP admin API port")
	return cmd
}

func runServe(ctx context.Context, loader *config.Loader) error {
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	logger.Info("Starting "+appName,
		zap.String("version", version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", loader.ConfigFile()))

	n, err := node.New(&node.Config{Settings: cfg, Logger: logger.Logger})
	if err != nil {
		logger.Error("Failed to create node", zap.Error(err))
		return err
	}
	defer func() {
		logger.Info("Closing node")
		if err := n.Close(); err != nil {
			logger.Warn("Error closing node", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		logger.Error("Failed to start node", zap.Error(err))
		return err
	}
	showStartupInfo(ctx, n, logger.Logger)

	serveErr := make(chan error, 1)
	var api *httpapi.Server
	if cfg.Admin.Enabled {
		api = httpapi.NewServer(n, httpapi.Config{
			Host:      cfg.Admin.Host,
			Port:      cfg.Admin.Port,
			SecretKey: cfg.Admin.SecretKey,
			Logger:    logger.Logger,
		})
		go func() {
			if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("admin API: %w", err)
			}
		}()
	}

	loader.Watch(func(updated *config.Config, err error) {
		if err != nil {
			logger.Warn("Ignoring invalid config change", zap.Error(err))
			return
		}
		applyConfigChange(logger, updated)
	})

	logger.Info("Node started, press Ctrl+C to shut down", zap.String("node_id", n.ID()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case runErr = <-serveErr:
		logger.Error("Admin API failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if api != nil {
		if err := api.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping admin API", zap.Error(err))
		}
	}
	if err := n.Stop(shutdownCtx); err != nil {
		logger.Warn("Error during graceful stop", zap.Error(err))
	}
	logger.Info("Node stopped", zap.String("node_id", n.ID()))
	return runErr
}

// applyConfigChange applies the settings that can change without a restart.
// Only the log level is live; everything else is picked up on the next start.
func applyConfigChange(logger *observability.Logger, updated *config.Config) {
	current := logger.Level.Level().String()
	if updated.Log.Level == current {
		return
	}
	if err := logger.SetLevel(updated.Log.Level); err != nil {
		logger.Warn("Failed to apply log level", zap.Error(err))
		return
	}
	logger.Info("Log level changed", zap.String("from", current), zap.String("to", updated.Log.Level))
}

func showStartupInfo(ctx context.Context, n *node.Node, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health := n.GetHealth(ctx)
	logger.Info("Health status",
		zap.Bool("healthy", health.Healthy),
		zap.String("run_state", health.RunState),
		zap.Int("jacks", health.Jacks),
		zap.Int("clients", health.Clients),
		zap.Int("connections", health.Connections),
		zap.Bool("log_enabled", health.LogEnabled),
		zap.String("message", health.Message))

	for _, j := range n.Routes().Jacks {
		logger.Info("Jack listening", zap.String("kind", j.Kind), zap.String("interface", j.Interface))
	}
}
