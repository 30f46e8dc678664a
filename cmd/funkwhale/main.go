// ABOUTME: Entry point for the Funkwhale plugin host.
// ABOUTME: Serves the plugin API and manages plugin settings, libraries and diagnostics from the CLI.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/egidijus/funkwhale/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "funkwhale",
		Short: "Funkwhale plugin host",
		Long: `Funkwhale plugin host: extension points, plugin settings and the plugin API.

Bundled plugins:
  • scrobbler     forward listenings to Last.fm compatible services
  • listenbrainz  submit listenings to ListenBrainz

Configuration is read from funkwhale.yaml (working directory or
~/.config/funkwhale), overridden by FUNKWHALE_* environment variables.
A .env file in the working directory or home directory is loaded first.

Quick Start:
  funkwhale serve                                   # Start server on port 9000
  funkwhale plugins list                            # Show plugins and pod settings
  funkwhale plugins configure scrobbler --user me username=me password=pw
  funkwhale plugins enable scrobbler --user me`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadDotEnv()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the plugin API server.

The server provides:
  • Plugin settings at /api/v1/plugins
  • Listening history at /api/v1/history/listenings
  • Health check at /healthz

Authentication:
  Use Bearer tokens in the format: Bearer user:USERNAME
  Example: curl -H "Authorization: Bearer user:me" http://localhost:9000/api/v1/plugins`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (overrides server.port)")

	rootCmd.AddCommand(serveCmd, newPluginsCmd(opts), newLibrariesCmd(opts))
	return rootCmd
}

// loadDotEnv loads .env from the working directory and the home directory.
// Variables already set win.
func loadDotEnv() {
	godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		godotenv.Load(filepath.Join(home, ".env"))
	}
}

// withApp loads configuration, builds the app and runs fn with it.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		port := a.cfg.Server.Port
		if p, _ := cmd.Flags().GetString("port"); p != "" {
			port = p
		}

		srv := &http.Server{
			Addr:              ":" + port,
			Handler:           a.handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("funkwhale server listening",
				"addr", srv.Addr,
				"driver", a.cfg.Database.Driver,
				"plugins_enabled", a.host.Enabled(),
			)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
}
