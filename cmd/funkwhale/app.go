// ABOUTME: Application wiring shared by the server and CLI commands.
// ABOUTME: Opens the configured stores, builds the plugin host and installs plugins.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/egidijus/funkwhale/internal/admin"
	"github.com/egidijus/funkwhale/internal/api"
	"github.com/egidijus/funkwhale/internal/config"
	"github.com/egidijus/funkwhale/internal/logging"
	"github.com/egidijus/funkwhale/internal/redisstore"
	"github.com/egidijus/funkwhale/internal/store"
	"github.com/egidijus/funkwhale/plugins/core"
	"github.com/egidijus/funkwhale/plugins/listenbrainz"
	"github.com/egidijus/funkwhale/plugins/scrobbler"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	// sql is nil with the memory driver.
	sql   *store.Store
	redis *redisstore.Store
	host  *core.Host

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, logCloser := logging.New(cfg.Log.Logging())
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	configs, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	hostCfg := core.HostConfig{
		Store:          configs,
		Sink:           logging.StoreSink{Logger: logger},
		Logger:         logger,
		Disabled:       !cfg.Plugins.Enabled,
		Strict:         cfg.Plugins.Strict,
		HandlerTimeout: cfg.Plugins.HandlerTimeout,
	}
	if a.sql != nil {
		hostCfg.Libraries = a.sql
		hostCfg.Sink = logging.StoreSink{Store: a.sql, Logger: logger}
	}

	a.host, err = core.NewHost(hostCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	plugins := []core.Plugin{
		scrobbler.New(
			scrobbler.WithDefaultURL(cfg.Plugins.Scrobbler.DefaultURL),
			scrobbler.WithLogger(logger),
		),
		listenbrainz.New(
			listenbrainz.WithAPIURL(cfg.Plugins.ListenBrainz.APIURL),
			listenbrainz.WithLogger(logger),
		),
	}
	for _, p := range plugins {
		if err := a.host.Install(p); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to install plugin: %w", err)
		}
	}
	return a, nil
}

// openStores opens the SQL store unless running in memory and returns the
// plugin configuration store selected by database.driver.
func (a *app) openStores(ctx context.Context) (core.ConfigStore, error) {
	cfg := a.cfg
	if cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory plugin configuration, nothing will be persisted")
		return core.NewMemoryStore(), nil
	}

	var err error
	if cfg.Database.Driver == config.DriverMySQL {
		a.sql, err = store.Open(store.DriverMySQL, cfg.Database.DSN)
	} else {
		var path string
		path, err = validateAndCleanDBPath(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		a.sql, err = store.New(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, a.sql)

	if cfg.Database.Driver != config.DriverRedis {
		return a.sql, nil
	}

	a.redis, err = redisstore.New(ctx, redisstore.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.redis)
	return a.redis, nil
}

// handler builds the HTTP handler of the API server.
func (a *app) handler() http.Handler {
	var opts []api.RouterOption
	if len(a.cfg.Server.Admins) > 0 {
		opts = append(opts, api.WithAdmin(admin.NewHandlers(a.host.Registry, a.logger), a.cfg.Server.Admins))
	}
	if a.sql == nil {
		return api.NewRouter(api.NewHandlers(a.host, nil, nil, a.logger), nil, a.logger, opts...)
	}
	return api.NewRouter(api.NewHandlers(a.host, a.sql, a.sql, a.logger), a.sql, a.logger, opts...)
}

func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

// requireSQL reports a usable error for commands that need the SQL store.
func (a *app) requireSQL() error {
	if a.sql == nil {
		return fmt.Errorf("this command needs a persistent database, not the %q driver", a.cfg.Database.Driver)
	}
	return nil
}

// validateAndCleanDBPath validates and cleans a database path.
// Handles Unix/Linux, macOS, and Windows paths (including UNC and drive letters).
func validateAndCleanDBPath(path string) (string, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return "", fmt.Errorf("database path cannot be empty, '.', or '/'")
	}
	cleanPath = filepath.Clean(cleanPath)

	if cleanPath == "." || cleanPath == "/" {
		return "", fmt.Errorf("database path cannot be empty, '.', or '/'")
	}

	// Windows: reject bare drive letters (e.g., "C:", "D:")
	if runtime.GOOS == "windows" && len(cleanPath) == 2 && cleanPath[1] == ':' {
		return "", fmt.Errorf("database path cannot be a bare drive letter")
	}

	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("database path cannot contain '..'")
	}

	badPatterns := []string{
		".git",
		".svn",
		"node_modules",
		".env",
		"credentials",
		"secret",
	}
	lowerPath := strings.ToLower(cleanPath)
	for _, pattern := range badPatterns {
		if strings.Contains(lowerPath, pattern) {
			return "", fmt.Errorf("database path cannot contain '%s' directory", pattern)
		}
	}

	return cleanPath, nil
}
