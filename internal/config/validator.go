package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "broker.backend")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateMediator()...)
	errors = append(errors, c.validateNotify()...)
	errors = append(errors, c.validateBroker()...)
	errors = append(errors, c.validateDevWallet()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateMediator validates the MediatorConfig
func (c *Config) validateMediator() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Mediator.DefaultToken) == "" {
		errors = append(errors, ValidationError{
			Field:   "mediator.default_token",
			Value:   c.Mediator.DefaultToken,
			Message: "must not be empty",
		})
	}

	if c.Mediator.ExecutionTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "mediator.execution_timeout_seconds",
			Value:   c.Mediator.ExecutionTimeoutSeconds,
			Message: "must be positive",
		})
	}

	// One hour upper bound
	const maxExecutionTimeout = 3600
	if c.Mediator.ExecutionTimeoutSeconds > maxExecutionTimeout {
		errors = append(errors, ValidationError{
			Field:   "mediator.execution_timeout_seconds",
			Value:   c.Mediator.ExecutionTimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxExecutionTimeout),
		})
	}

	if c.Mediator.OutcomeRetentionMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "mediator.outcome_retention_minutes",
			Value:   c.Mediator.OutcomeRetentionMinutes,
			Message: "must be positive",
		})
	}

	if c.Mediator.OutcomeRetentionSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "mediator.outcome_retention_size",
			Value:   c.Mediator.OutcomeRetentionSize,
			Message: "must be positive",
		})
	}

	return errors
}

// validateNotify validates the NotifyConfig
func (c *Config) validateNotify() []ValidationError {
	var errors []ValidationError

	if c.Notify.Buffer < 1 || c.Notify.Buffer > 1024 {
		errors = append(errors, ValidationError{
			Field:   "notify.buffer",
			Value:   c.Notify.Buffer,
			Message: "must be between 1 and 1024",
		})
	}

	return errors
}

// validateBroker validates the BrokerConfig
func (c *Config) validateBroker() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Broker.Backend) {
		errors = append(errors, ValidationError{
			Field:   "broker.backend",
			Value:   c.Broker.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if c.Broker.Backend == "redis" && strings.TrimSpace(c.Broker.Redis.Addr) == "" {
		errors = append(errors, ValidationError{
			Field:   "broker.redis.addr",
			Value:   c.Broker.Redis.Addr,
			Message: "is required for the redis backend",
		})
	}

	if c.Broker.Redis.DB < 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.redis.db",
			Value:   c.Broker.Redis.DB,
			Message: "must be non-negative",
		})
	}

	if c.Broker.PollIntervalMs < 10 {
		errors = append(errors, ValidationError{
			Field:   "broker.poll_interval_ms",
			Value:   c.Broker.PollIntervalMs,
			Message: "must be at least 10",
		})
	}

	if c.Broker.MaxLogSizeKB < 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.max_log_size_kb",
			Value:   c.Broker.MaxLogSizeKB,
			Message: "must be non-negative (0 disables truncation)",
		})
	}

	if c.Broker.Workers < 1 || c.Broker.Workers > 256 {
		errors = append(errors, ValidationError{
			Field:   "broker.workers",
			Value:   c.Broker.Workers,
			Message: "must be between 1 and 256",
		})
	}

	if c.Broker.RequestTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.request_timeout_seconds",
			Value:   c.Broker.RequestTimeoutSeconds,
			Message: "must be positive",
		})
	}

	if strings.ContainsAny(c.Broker.ChannelPrefix, " \t\n") {
		errors = append(errors, ValidationError{
			Field:   "broker.channel_prefix",
			Value:   c.Broker.ChannelPrefix,
			Message: "must not contain whitespace",
		})
	}

	return errors
}

// validateDevWallet validates the DevWalletConfig
func (c *Config) validateDevWallet() []ValidationError {
	var errors []ValidationError

	if c.DevWallet.LatencyMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "devwallet.latency_ms",
			Value:   c.DevWallet.LatencyMs,
			Message: "must be non-negative",
		})
	}

	// Sort for stable error order
	tokens := make([]string, 0, len(c.DevWallet.Balances))
	for token := range c.DevWallet.Balances {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)

	for _, token := range tokens {
		raw := c.DevWallet.Balances[token]
		field := fmt.Sprintf("devwallet.balances.%s", token)
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   raw,
				Message: "must be a decimal number",
			})
			continue
		}
		if amount.IsNegative() {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   raw,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	errors = append(errors, validatePath("logging.dir", c.Logging.Dir)...)

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	return validatePath("paths.data_dir", c.Paths.DataDir)
}

func validatePath(field, path string) []ValidationError {
	if path == "" {
		return nil
	}
	var errors []ValidationError

	// Check for null bytes which are invalid in paths
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}
