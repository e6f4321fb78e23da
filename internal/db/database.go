// Package db provides the PostgreSQL-backed Repository used by the broker.
//
// The broker itself never touches SQL directly: it depends on the
// app.Repository interface (see internal/app). This package is one
// concrete implementation of that interface, persisting apps, adapter
// subscription records, and the optional event log.
//
// Read-through on startup: Load() is called once before the broker
// accepts any connections, so a failing read here aborts startup
// rather than letting the broker run with a stale or empty app table.
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database represents the pooled PostgreSQL connection.
type Database struct {
	db *sql.DB
}

// validateConfig rejects connection parameters that could not possibly be
// valid identifiers, closing off a class of connection-string injection.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a pooled connection and verifies connectivity.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (e.g. sqlmock) for tests.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for callers that need raw access.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the schema described in spec section 6 ("Persisted
// state layout") if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS apps (
			id VARCHAR(64) PRIMARY KEY,
			key VARCHAR(64) UNIQUE NOT NULL,
			secret VARCHAR(128) NOT NULL,
			name VARCHAR(255) NOT NULL,
			smtp_url TEXT,
			apn_key TEXT,
			apn_cer TEXT,
			vapid_key TEXT,
			vapid_public TEXT,
			vapid_email VARCHAR(255),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_apps_key ON apps(key)`,

		`CREATE TABLE IF NOT EXISTS subs_personal (
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			event VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (app_id, user_id, event)
		)`,

		`CREATE TABLE IF NOT EXISTS subs_mobile (
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			target VARCHAR(512) NOT NULL,
			event VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (app_id, target, event)
		)`,

		`CREATE TABLE IF NOT EXISTS subs_webhook (
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			target VARCHAR(2048) NOT NULL,
			event VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (app_id, target, event)
		)`,

		`CREATE TABLE IF NOT EXISTS subs_email (
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			target VARCHAR(320) NOT NULL,
			event VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (app_id, target, event)
		)`,

		`CREATE TABLE IF NOT EXISTS subs_web_push (
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			target VARCHAR(2048) NOT NULL,
			event VARCHAR(255) NOT NULL,
			p256dh VARCHAR(255) NOT NULL,
			auth VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (app_id, target, event)
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			mid VARCHAR(64) PRIMARY KEY,
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			channel VARCHAR(255) NOT NULL,
			owner_id VARCHAR(255),
			timestamp BIGINT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_app_channel ON events(app_id, channel)`,

		`CREATE TABLE IF NOT EXISTS assoc (
			app_id VARCHAR(64) NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			mid VARCHAR(64) NOT NULL REFERENCES events(mid) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			PRIMARY KEY (app_id, mid, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_user ON assoc(app_id, user_id)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
