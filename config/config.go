package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentpool/bus"
	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/health"
	"github.com/hupe1980/agentpool/logging"
	"github.com/hupe1980/agentpool/manager"
	"github.com/hupe1980/agentpool/recovery"
	"github.com/hupe1980/agentpool/scheduler"
)

// Duration wraps time.Duration so YAML accepts values like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q: %v", core.ErrConfig, raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// SchedulerConfig tunes task scheduling.
type SchedulerConfig struct {
	Strategy     string   `yaml:"strategy"` // load-balancing, priority-based, capability-match
	TickInterval Duration `yaml:"tick_interval"`
	MaxQueueWait Duration `yaml:"max_queue_wait"`
}

// HealthConfig tunes the monitor and its probes. Zero thresholds disable
// the corresponding probe.
type HealthConfig struct {
	Interval            Duration `yaml:"interval"`
	CheckTimeout        Duration `yaml:"check_timeout"`
	MaxConcurrentChecks int      `yaml:"max_concurrent_checks"`
	MaxResponseTime     Duration `yaml:"max_response_time"`
	MemoryLimitBytes    uint64   `yaml:"memory_limit_bytes"`
	MinSuccessRatio     float64  `yaml:"min_success_ratio"`
	MinSamples          uint64   `yaml:"min_samples"`
}

// BreakerConfig mirrors recovery.BreakerConfig with YAML durations.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

// RecoveryConfig tunes the failure recovery pipeline.
type RecoveryConfig struct {
	Breaker         BreakerConfig `yaml:"breaker"`
	MaxAttempts     int           `yaml:"max_attempts"`
	ExhaustionLimit int           `yaml:"exhaustion_limit"`
	InitTimeout     Duration      `yaml:"init_timeout"`
	ShutdownTimeout Duration      `yaml:"shutdown_timeout"`
}

// BusConfig tunes the middleware pipeline.
type BusConfig struct {
	RateLimitPerSecond   float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst       int     `yaml:"rate_limit_burst"`
	CompressionThreshold int     `yaml:"compression_threshold"`
}

// WorkerConfig is the file form of core.WorkerConfig.
type WorkerConfig struct {
	ID                 string            `yaml:"id"`
	Enabled            *bool             `yaml:"enabled"`
	Priority           int               `yaml:"priority"`
	MaxConcurrentTasks int               `yaml:"max_concurrent_tasks"`
	Timeout            Duration          `yaml:"timeout"`
	RetryCount         *int              `yaml:"retry_count"`
	Settings           map[string]string `yaml:"settings"`
}

// ToCore converts to core.WorkerConfig, filling defaults for unset fields.
func (w WorkerConfig) ToCore() core.WorkerConfig {
	cfg := core.DefaultWorkerConfig(w.ID)

	if w.Enabled != nil {
		cfg.Enabled = *w.Enabled
	}
	if w.Priority > 0 {
		cfg.Priority = w.Priority
	}
	if w.MaxConcurrentTasks > 0 {
		cfg.MaxConcurrentTasks = w.MaxConcurrentTasks
	}
	if w.Timeout > 0 {
		cfg.Timeout = w.Timeout.Std()
	}
	if w.RetryCount != nil {
		cfg.RetryCount = *w.RetryCount
	}
	cfg.Settings = w.Settings

	return cfg
}

// Config is the full file surface.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Health    HealthConfig    `yaml:"health"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Bus       BusConfig       `yaml:"bus"`
	Workers   []WorkerConfig  `yaml:"workers"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{
			Strategy:     "load-balancing",
			TickInterval: Duration(100 * time.Millisecond),
			MaxQueueWait: Duration(5 * time.Minute),
		},
		Health: HealthConfig{
			Interval:            Duration(30 * time.Second),
			CheckTimeout:        Duration(5 * time.Second),
			MaxConcurrentChecks: 10,
		},
		Recovery: RecoveryConfig{
			Breaker: BreakerConfig{
				FailureThreshold: 3,
				SuccessThreshold: 2,
				ResetTimeout:     Duration(30 * time.Second),
			},
			MaxAttempts:     5,
			ExhaustionLimit: 3,
			InitTimeout:     Duration(10 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Load reads and validates a YAML file, layered over Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", core.ErrConfig, path, err)
	}

	return Parse(data)
}

// Parse decodes and validates YAML bytes, layered over Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", core.ErrConfig, c.Logging.Level)
	}

	switch c.Scheduler.Strategy {
	case "", "load-balancing", "priority-based", "capability-match":
	default:
		return fmt.Errorf("%w: unknown scheduler strategy %q", core.ErrConfig, c.Scheduler.Strategy)
	}

	if c.Recovery.Breaker.FailureThreshold < 0 || c.Recovery.Breaker.SuccessThreshold < 0 {
		return fmt.Errorf("%w: breaker thresholds must not be negative", core.ErrConfig)
	}

	if c.Health.MinSuccessRatio < 0 || c.Health.MinSuccessRatio > 1 {
		return fmt.Errorf("%w: min_success_ratio must be within [0, 1]", core.ErrConfig)
	}

	seen := make(map[string]struct{}, len(c.Workers))
	for _, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("%w: worker entry without an id", core.ErrConfig)
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("%w: duplicate worker id %q", core.ErrConfig, w.ID)
		}
		seen[w.ID] = struct{}{}
	}

	return nil
}

// Logger builds the structured logger the file describes.
func (c Config) Logger() logging.Logger {
	return logging.NewPoolLogger(&logging.LoggerConfig{
		Level:  logLevel(c.Logging.Level),
		Format: c.Logging.Format,
		Output: os.Stdout,
	})
}

func logLevel(name string) logging.LogLevel {
	switch name {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

// Probes builds the probe list the health section enables.
func (c Config) Probes() []health.Probe {
	probes := []health.Probe{health.SelfReportProbe{}}

	if c.Health.MaxResponseTime > 0 {
		probes = append(probes, health.ResponseTimeProbe{Ceiling: c.Health.MaxResponseTime.Std()})
	}

	if c.Health.MemoryLimitBytes > 0 {
		probes = append(probes, health.MemoryProbe{LimitBytes: c.Health.MemoryLimitBytes})
	}

	if c.Health.MinSuccessRatio > 0 {
		probes = append(probes, health.SuccessRatioProbe{
			MinRatio:   c.Health.MinSuccessRatio,
			MinSamples: c.Health.MinSamples,
		})
	}

	return probes
}

// Middleware builds the bus middleware pipeline the file enables.
func (c Config) Middleware(logger logging.Logger) []bus.Middleware {
	mw := []bus.Middleware{bus.NewLoggingMiddleware(logger)}

	if c.Bus.RateLimitPerSecond > 0 {
		mw = append(mw, bus.NewRateLimitMiddleware(c.Bus.RateLimitPerSecond, c.Bus.RateLimitBurst))
	}

	if c.Bus.CompressionThreshold > 0 {
		mw = append(mw, bus.NewCompressionMiddleware(c.Bus.CompressionThreshold))
	}

	return mw
}

// ManagerOptions translates the file into manager options.
func (c Config) ManagerOptions() func(o *manager.Options) {
	logger := c.Logger()

	return func(o *manager.Options) {
		o.Logger = logger
		o.Middleware = c.Middleware(logger)
		o.Probes = c.Probes()

		o.Strategy = scheduler.StrategyByName(c.Scheduler.Strategy)
		o.TickInterval = c.Scheduler.TickInterval.Std()
		o.MaxQueueWait = c.Scheduler.MaxQueueWait.Std()

		o.HealthInterval = c.Health.Interval.Std()
		o.CheckTimeout = c.Health.CheckTimeout.Std()

		o.Breaker = recovery.BreakerConfig{
			FailureThreshold: c.Recovery.Breaker.FailureThreshold,
			SuccessThreshold: c.Recovery.Breaker.SuccessThreshold,
			ResetTimeout:     c.Recovery.Breaker.ResetTimeout.Std(),
		}
		o.MaxRecoveryAttempts = c.Recovery.MaxAttempts
		o.InitTimeout = c.Recovery.InitTimeout.Std()
		o.ShutdownTimeout = c.Recovery.ShutdownTimeout.Std()
		if c.Recovery.ExhaustionLimit > 0 {
			o.ExhaustionLimit = c.Recovery.ExhaustionLimit
		}
	}
}

// WorkerConfigs converts the worker entries, skipping disabled ones.
func (c Config) WorkerConfigs() []core.WorkerConfig {
	out := make([]core.WorkerConfig, 0, len(c.Workers))
	for _, w := range c.Workers {
		cfg := w.ToCore()
		if !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}

	return out
}
