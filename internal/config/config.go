// Package config provides centralized configuration management for the importer.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings for `sigtap serve`.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// APIKeys, when set, are required in the X-API-Key header of /api requests
	APIKeys []string `env:"SERVER_API_KEYS"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Only commands that write to
	// the database require it; see RequireDatabase.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Schema is the schema tables are created in (default: public)
	Schema string `env:"DB_SCHEMA" default:"public"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds SIGTAP import settings.
type ImportConfig struct {
	// Dir is the default directory holding layout and data files
	Dir string `env:"IMPORT_DIR"`

	// DefaultEncoding is used when no candidate encoding fits (default: ISO-8859-1)
	DefaultEncoding string `env:"IMPORT_DEFAULT_ENCODING" default:"ISO-8859-1"`

	// SampleLines is how many lines encoding detection reads (default: 20)
	SampleLines int `env:"IMPORT_SAMPLE_LINES" default:"20"`

	// BatchSize is the number of rows per bulk load (default: 1000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"1000"`

	// BulkLoad enables COPY for tables created during the run (default: true)
	BulkLoad bool `env:"IMPORT_BULK_LOAD" default:"true"`

	// DetectStructure enables table creation and widening (default: true)
	DetectStructure bool `env:"IMPORT_DETECT_STRUCTURE" default:"true"`

	// RepairEncoding re-decodes double-encoded lines (default: true)
	RepairEncoding bool `env:"IMPORT_REPAIR_ENCODING" default:"true"`

	// MandatoryTables are warned about when missing from the directory
	MandatoryTables []string `env:"IMPORT_MANDATORY_TABLES" default:"TB_PROCEDIMENTO,TB_GRUPO,TB_SUB_GRUPO,TB_FORMA_ORGANIZACAO"`

	// MaxErrors stops the run after this many errors; 0 means unlimited (default: 0)
	MaxErrors int `env:"IMPORT_MAX_ERRORS" default:"0"`

	// DuplicatePolicy is ignore, update or error (default: update)
	DuplicatePolicy string `env:"IMPORT_DUPLICATE_POLICY" default:"update"`

	// ProgressInterval is the number of lines between progress reports (default: 100)
	ProgressInterval int `env:"IMPORT_PROGRESS_INTERVAL" default:"100"`

	// Timeout is the maximum duration of one run (default: 4h)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"4h"`

	// KeyFile is a YAML file pinning the primary keys of specific tables
	KeyFile string `env:"IMPORT_KEY_FILE"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
