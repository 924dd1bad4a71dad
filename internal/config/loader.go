package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sigtap/internal/core"
)

// ErrNoDatabase is returned by RequireDatabase when no connection string is set.
var ErrNoDatabase = errors.New("DATABASE_URL is required for this command")

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an explicit variable source.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from the variable source.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := lookupValue(lookup, envName, field.Tag.Get("envAlt"))
		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookupValue tries the primary variable, then the alternate.
func lookupValue(lookup LookupFunc, name, alt string) string {
	if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if alt != "" {
		if v, ok := lookup(alt); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		// Comma-separated, blanks dropped
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation. The URL itself is checked by RequireDatabase.
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if _, err := core.LookupEncoding(c.Import.DefaultEncoding); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_ENCODING (%q) must be one of: %s",
			c.Import.DefaultEncoding, strings.Join(core.SupportedEncodings(), ", ")))
	}
	if _, err := core.ParseDuplicatePolicy(c.Import.DuplicatePolicy); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_DUPLICATE_POLICY (%q) must be one of: ignore, update, error",
			c.Import.DuplicatePolicy))
	}
	if c.Import.SampleLines <= 0 {
		errs = append(errs, "IMPORT_SAMPLE_LINES must be positive")
	}
	if c.Import.BatchSize <= 0 {
		errs = append(errs, "IMPORT_BATCH_SIZE must be positive")
	}
	if c.Import.ProgressInterval <= 0 {
		errs = append(errs, "IMPORT_PROGRESS_INTERVAL must be positive")
	}
	if c.Import.MaxErrors < 0 {
		errs = append(errs, "IMPORT_MAX_ERRORS must be non-negative")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}
	if c.Import.KeyFile != "" {
		if _, err := os.Stat(c.Import.KeyFile); err != nil {
			errs = append(errs, fmt.Sprintf("IMPORT_KEY_FILE (%q) is not readable", c.Import.KeyFile))
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// RequireDatabase reports ErrNoDatabase when no connection string is set.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return ErrNoDatabase
	}
	return nil
}

// Options converts the import section into core import options.
func (c *ImportConfig) Options() (core.ImportOptions, error) {
	policy, err := core.ParseDuplicatePolicy(c.DuplicatePolicy)
	if err != nil {
		return core.ImportOptions{}, err
	}
	enc, err := core.LookupEncoding(c.DefaultEncoding)
	if err != nil {
		return core.ImportOptions{}, err
	}

	opts := core.DefaultImportOptions()
	opts.Policy = policy
	opts.DefaultEncoding = enc.Name
	opts.SampleLines = c.SampleLines
	opts.BatchSize = c.BatchSize
	opts.BulkLoad = c.BulkLoad
	opts.DetectStructure = c.DetectStructure
	opts.RepairEncoding = c.RepairEncoding
	opts.MaxErrors = c.MaxErrors
	opts.ProgressInterval = c.ProgressInterval
	if len(c.MandatoryTables) > 0 {
		opts.MandatoryTables = c.MandatoryTables
	}
	if c.KeyFile != "" {
		if opts.KeyOverrides, err = LoadKeyOverrides(c.KeyFile); err != nil {
			return core.ImportOptions{}, err
		}
	}
	return opts, nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	url := "[UNSET]"
	if c.Database.URL != "" {
		url = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: %s, Schema: %q, MaxConns: %d, MinConns: %d}, ",
		url, c.Database.Schema, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {Encoding: %q, BatchSize: %d, BulkLoad: %v, Policy: %q, MaxErrors: %d}, ",
		c.Import.DefaultEncoding, c.Import.BatchSize, c.Import.BulkLoad, c.Import.DuplicatePolicy, c.Import.MaxErrors)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
