package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
)

// ValidationContext specifies what configuration a command requires
type ValidationContext string

const (
	// ValidationContextMigrate - migrate/serve need both stores
	ValidationContextMigrate ValidationContext = "migrate"
	// ValidationContextGraph - schema needs only the graph store
	ValidationContextGraph ValidationContext = "graph"
	// ValidationContextHistory - history needs only the local history file
	ValidationContextHistory ValidationContext = "history"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	return sb.String()
}

// Err returns the result as a Config error, or nil when valid
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigErrorf("%s", strings.TrimSpace(vr.Error())).
		WithContext("problems", len(vr.Errors))
}

// LogWarnings emits every warning on logger
func (vr *ValidationResult) LogWarnings(logger logrus.FieldLogger) {
	for _, w := range vr.Warnings {
		logger.Warn(w)
	}
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextMigrate:
		c.validatePostgres(result)
		c.validateNeo4j(result)
		c.validateRedis(result)
		c.validateMigration(result)
		c.validateReadiness(result)
	case ValidationContextGraph:
		c.validateNeo4j(result)
	case ValidationContextHistory:
		c.validateHistory(result)
	}

	return result
}

func (c *Config) validatePostgres(result *ValidationResult) {
	if c.Postgres.DSN == "" {
		result.AddError("DATABASE_URL (postgres.dsn) is required but not set")
	}
	if c.Postgres.Driver == "" {
		result.AddError("postgres.driver is required")
	}
	if c.Postgres.MaxOpenConns < 0 {
		result.AddError("postgres.max_open_conns must be >= 0, got %d", c.Postgres.MaxOpenConns)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI (neo4j.uri) is required but not set")
	} else if u, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	} else if !isBoltScheme(u.Scheme) {
		result.AddError("NEO4J_URI scheme %q is not a bolt or neo4j scheme", u.Scheme)
	}

	if c.Neo4j.User == "" {
		result.AddWarning("NEO4J_USER is not set; connecting without authentication")
	} else if c.Neo4j.Password == "" {
		result.AddWarning("NEO4J_PASSWORD is not set (env, config file or keychain)")
	}
}

func (c *Config) validateRedis(result *ValidationResult) {
	if c.Redis.Addr == "" {
		return
	}
	if c.Redis.LockKey == "" {
		result.AddError("redis.lock_key is required when redis.addr is set")
	}
	if c.Redis.LockTTL <= 0 {
		result.AddError("redis.lock_ttl must be positive")
	} else if c.Migration.RunTimeout > c.Redis.LockTTL {
		result.AddWarning("redis.lock_ttl (%s) is shorter than migration.run_timeout (%s)", c.Redis.LockTTL, c.Migration.RunTimeout)
	}
}

func (c *Config) validateMigration(result *ValidationResult) {
	m := c.Migration
	if m.BatchSize <= 0 {
		result.AddError("migration.batch_size must be positive, got %d", m.BatchSize)
	}
	for kind, size := range m.BatchSizes {
		if size <= 0 {
			result.AddError("migration.batch_sizes.%s must be positive, got %d", kind, size)
		}
	}
	if m.ChunkSize <= 0 {
		result.AddError("migration.chunk_size must be positive, got %d", m.ChunkSize)
	}
	if m.Workers <= 0 {
		result.AddError("migration.workers must be positive, got %d", m.Workers)
	}
	if m.MaxRetries < 1 {
		result.AddError("migration.max_retries must be at least 1, got %d", m.MaxRetries)
	}
	if m.RunTimeout <= 0 {
		result.AddError("migration.run_timeout must be positive")
	}
	if m.WritesPerSecond < 0 {
		result.AddError("migration.writes_per_second must be >= 0")
	}
	if m.WipeBatchSize <= 0 {
		result.AddError("migration.wipe_batch_size must be positive, got %d", m.WipeBatchSize)
	}
}

func (c *Config) validateReadiness(result *ValidationResult) {
	r := c.Readiness
	if r.Timeout <= 0 {
		result.AddError("readiness.timeout must be positive")
	}
	if r.Interval <= 0 {
		result.AddError("readiness.interval must be positive")
	}
	if r.Multiplier < 1 {
		result.AddError("readiness.multiplier must be >= 1, got %g", r.Multiplier)
	}
}

func (c *Config) validateHistory(result *ValidationResult) {
	if c.History.Path == "" {
		result.AddError("history.path is required")
	}
	if c.History.Retain < 0 {
		result.AddError("history.retain must not be negative")
	}
}

func isBoltScheme(scheme string) bool {
	switch scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
		return true
	}
	return false
}
