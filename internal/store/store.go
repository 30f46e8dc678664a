// ABOUTME: Core SQL store for the Funkwhale plugin host.
// ABOUTME: Handles database initialization, migrations, and connection management for SQLite and MySQL.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Migration version constants
const (
	MigrationV1 = 1 // plugin_configurations table
	MigrationV2 = 2 // libraries and listenings tables
	MigrationV3 = 3 // request_logs and plugin_failures tables
)

// CurrentSchemaVersion is the target version for the database schema
const CurrentSchemaVersion = MigrationV3

type Store struct {
	db     *sql.DB
	driver string
}

// New opens a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects to driver using dsn and applies pending migrations.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// Timestamps are scanned into time.Time.
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Verify connection works
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pooling
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0) // Connections don't expire

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// sqliteDSN adds connection pragmas as DSN parameters so every pooled
// connection gets them, not only the first.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the SQL driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

// migrate runs all pending migrations
func (s *Store) migrate(ctx context.Context) error {
	if err := s.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentMigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	slog.Debug("database schema version", "current", currentVersion, "target", CurrentSchemaVersion)

	migrations := []struct {
		version     int
		description string
		statements  func() []string
	}{
		{MigrationV1, "Create plugin_configurations table", s.schemaV1},
		{MigrationV2, "Create libraries and listenings tables", s.schemaV2},
		{MigrationV3, "Create request_logs and plugin_failures tables", s.schemaV3},
	}

	for _, m := range migrations {
		if currentVersion >= m.version {
			continue
		}
		for _, stmt := range m.statements() {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration v%d failed: %w", m.version, err)
			}
		}
		if err := s.recordMigration(ctx, m.version, m.description); err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.version, "description", m.description)
	}

	return nil
}

// createMigrationsTable creates the schema_migrations tracking table
func (s *Store) createMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`)
	return err
}

// getCurrentMigrationVersion retrieves the current schema version
func (s *Store) getCurrentMigrationVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// recordMigration records a completed migration
func (s *Store) recordMigration(ctx context.Context, version int, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, description)
		VALUES (?, ?)
	`, version, description)
	return err
}

// schemaV1 creates plugin_configurations. The pod-level record of a plugin
// has an empty user_id so the unique key covers both scopes.
func (s *Store) schemaV1() []string {
	if s.driver == DriverMySQL {
		return []string{`
		CREATE TABLE IF NOT EXISTS plugin_configurations (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			plugin_name VARCHAR(191) NOT NULL,
			user_id VARCHAR(191) NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			config TEXT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_plugin_user (plugin_name, user_id)
		)`}
	}
	return []string{`
	CREATE TABLE IF NOT EXISTS plugin_configurations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin_name TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 0,
		config TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (plugin_name, user_id)
	)`}
}

func (s *Store) schemaV2() []string {
	if s.driver == DriverMySQL {
		return []string{`
		CREATE TABLE IF NOT EXISTS libraries (
			id CHAR(36) PRIMARY KEY,
			owner VARCHAR(191) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_libraries_owner (owner)
		)`, `
		CREATE TABLE IF NOT EXISTS listenings (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			track TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			INDEX idx_listenings_user_created (user_id, created_at)
		)`}
	}
	return []string{`
	CREATE TABLE IF NOT EXISTS libraries (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
		`CREATE INDEX IF NOT EXISTS idx_libraries_owner ON libraries(owner)`, `
	CREATE TABLE IF NOT EXISTS listenings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		track TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_listenings_user_created ON listenings(user_id, created_at DESC)`,
	}
}

func (s *Store) schemaV3() []string {
	if s.driver == DriverMySQL {
		return []string{`
		CREATE TABLE IF NOT EXISTS request_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			plugin_name VARCHAR(191) DEFAULT '',
			method VARCHAR(16) NOT NULL,
			path VARCHAR(512) NOT NULL,
			status_code INTEGER,
			duration_ms INTEGER,
			user_id VARCHAR(191),
			ip_address VARCHAR(64),
			user_agent TEXT,
			request_body TEXT,
			response_body TEXT,
			error TEXT,
			INDEX idx_request_logs_plugin_timestamp (plugin_name, timestamp),
			INDEX idx_request_logs_status (status_code)
		)`, `
		CREATE TABLE IF NOT EXISTS plugin_failures (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			plugin_name VARCHAR(191) NOT NULL,
			extension_point VARCHAR(191) NOT NULL,
			error TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			INDEX idx_plugin_failures_plugin (plugin_name, created_at)
		)`}
	}
	return []string{`
	CREATE TABLE IF NOT EXISTS request_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		plugin_name TEXT DEFAULT '',
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status_code INTEGER,
		duration_ms INTEGER,
		user_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		request_body TEXT,
		response_body TEXT,
		error TEXT
	)`,
		"CREATE INDEX IF NOT EXISTS idx_request_logs_plugin_timestamp ON request_logs(plugin_name, timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_request_logs_status ON request_logs(status_code)", `
	CREATE TABLE IF NOT EXISTS plugin_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin_name TEXT NOT NULL,
		extension_point TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
		"CREATE INDEX IF NOT EXISTS idx_plugin_failures_plugin ON plugin_failures(plugin_name, created_at DESC)",
	}
}
