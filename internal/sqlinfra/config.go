package sqlinfra

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// DriverSQLite selects the pure Go SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the lib/pq PostgreSQL driver.
	DriverPostgres = "postgres"
)

// Config holds the connection settings used to open a bun database.
type Config struct {
	// Driver is either DriverSQLite or DriverPostgres.
	Driver string

	// DSN is the driver specific data source name.
	// Default: a private in-memory SQLite database.
	DSN string

	// MaxOpenConns caps the pool size. Zero means unlimited, except for
	// SQLite where the pool is always limited to a single connection.
	MaxOpenConns int

	// MaxIdleConns is the number of idle connections kept open.
	MaxIdleConns int

	// ConnMaxLifetime closes connections older than this duration.
	// Zero keeps connections forever.
	ConnMaxLifetime time.Duration

	// LogQueries installs a zap query hook logging every statement at debug level.
	LogQueries bool
}

// DefaultConfig returns a Config targeting an in-memory SQLite database.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogQueries:   true,
	}
}

// Validate checks the configuration and returns a *ConfigError naming the
// first offending field.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
		validation.Field(&c.ConnMaxLifetime, validation.Min(time.Duration(0))),
	)
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return &ConfigError{Field: "Config", Message: err.Error()}
	}
	fields := make([]string, 0, len(fieldErrs))
	for field := range fieldErrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return &ConfigError{Field: fields[0], Message: fieldErrs[fields[0]].Error()}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
