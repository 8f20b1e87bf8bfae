package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/soroflow/streamwatch/internal/common"
	"github.com/soroflow/streamwatch/internal/logger"
)

// contractIDPattern matches a Soroban contract identifier in strkey form:
// 56 characters, leading "C", remaining uppercase alphanumerics.
var contractIDPattern = regexp.MustCompile(`^C[A-Z0-9]{55}$`)

// DefaultNetworkPassphrase is used when no passphrase is configured.
const DefaultNetworkPassphrase = "Test SDF Network ; September 2015"

// Config represents the complete configuration for the stream watcher.
type Config struct {
	// Watcher contains the event watcher configuration
	Watcher WatcherConfig `yaml:"watcher" json:"watcher" toml:"watcher"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ApplyDefaults sets default values for all optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Watcher.ApplyDefaults()

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks the whole configuration. It returns an error only for hard
// failures; soft issues are reported by Warnings.
func (c *Config) Validate() error {
	if err := c.Watcher.Validate(); err != nil {
		return err
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Warnings returns non-fatal configuration issues for the caller to log.
func (c *Config) Warnings() []string {
	return c.Watcher.Warnings()
}

// WatcherConfig represents the configuration for the cursor poller.
type WatcherConfig struct {
	// RPCURL is the Soroban RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ContractID is the strkey-encoded contract whose events are watched
	ContractID string `yaml:"contract_id" json:"contract_id" toml:"contract_id"`

	// NetworkPassphrase identifies the target network
	NetworkPassphrase string `yaml:"network_passphrase" json:"network_passphrase" toml:"network_passphrase"`

	// PollInterval is the sleep between successful poll cycles
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// MaxRetries is the number of consecutive poll failures tolerated before
	// the watcher stops
	MaxRetries int `yaml:"max_retries" json:"max_retries" toml:"max_retries"`

	// RetryDelay is the base delay for the poll loop's exponential backoff
	RetryDelay common.Duration `yaml:"retry_delay" json:"retry_delay" toml:"retry_delay"`

	// EventBatchLimit is the maximum number of events requested per poll
	EventBatchLimit int `yaml:"event_batch_limit" json:"event_batch_limit" toml:"event_batch_limit"`

	// Retry contains optional transport-level retry configuration.
	// When nil (the default) each RPC call is attempted once and the poll
	// loop owns all retry behavior.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// DB contains database configuration for the stream store
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`
}

// ApplyDefaults sets default values for optional watcher configuration fields.
func (w *WatcherConfig) ApplyDefaults() {
	if w.NetworkPassphrase == "" {
		w.NetworkPassphrase = DefaultNetworkPassphrase
	}
	if w.PollInterval.Duration == 0 {
		w.PollInterval = common.NewDuration(5 * time.Second)
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = 3
	}
	if w.RetryDelay.Duration == 0 {
		w.RetryDelay = common.NewDuration(2 * time.Second)
	}
	if w.EventBatchLimit == 0 {
		w.EventBatchLimit = 100
	}

	if w.Retry != nil {
		w.Retry.ApplyDefaults()
	}

	w.DB.ApplyDefaults()
}

// Validate checks if the watcher configuration is valid.
func (w *WatcherConfig) Validate() error {
	if w.RPCURL == "" {
		return fmt.Errorf("watcher.rpc_url is required")
	}
	if _, err := url.Parse(w.RPCURL); err != nil {
		return fmt.Errorf("watcher.rpc_url: %w", err)
	}
	if w.ContractID == "" {
		return fmt.Errorf("watcher.contract_id is required")
	}
	if w.MaxRetries < 0 {
		return fmt.Errorf("watcher.max_retries must not be negative")
	}
	if w.EventBatchLimit < 0 {
		return fmt.Errorf("watcher.event_batch_limit must not be negative")
	}
	if w.DB.Path == "" {
		return fmt.Errorf("watcher.db.path is required")
	}
	return nil
}

// Warnings reports soft issues with the watcher configuration.
// A malformed contract ID is deliberately not a hard failure.
func (w *WatcherConfig) Warnings() []string {
	var warnings []string
	if w.ContractID != "" && !contractIDPattern.MatchString(w.ContractID) {
		warnings = append(warnings, fmt.Sprintf(
			"watcher.contract_id %q does not look like a contract strkey (expected 56 chars starting with 'C')",
			w.ContractID))
	}
	return warnings
}

// RetryConfig represents transport-level RPC retry configuration with
// exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	// NORMAL provides a good balance between safety and performance
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - watcher: Cursor poller orchestration
	//   - rpc-client: Soroban RPC transport
	//   - decoder: ScVal event decoding
	//   - reconciler: Stream lifecycle reconciliation
	//   - stream-store: Stream record persistence
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	// Development defaults to false (zero value)
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	// Enabled defaults to false (zero value)
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("metrics.listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("metrics.path is required when metrics are enabled")
		}
	}

	if m.Path != "" && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	return nil
}
