package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/manager"
)

const sampleYAML = `
logging:
  level: debug
  format: text
scheduler:
  strategy: priority-based
  tick_interval: 50ms
  max_queue_wait: 2m
health:
  interval: 10s
  check_timeout: 2s
  max_response_time: 1s
  memory_limit_bytes: 536870912
  min_success_ratio: 0.8
  min_samples: 20
recovery:
  breaker:
    failure_threshold: 5
    success_threshold: 3
    reset_timeout: 1m
  max_attempts: 4
  exhaustion_limit: 2
bus:
  rate_limit_per_second: 100
  rate_limit_burst: 20
  compression_threshold: 4096
workers:
  - id: commit-1
    priority: 8
    max_concurrent_tasks: 2
    timeout: 45s
    retry_count: 1
  - id: analysis-1
    enabled: false
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "priority-based", cfg.Scheduler.Strategy)
	require.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval.Std())
	require.Equal(t, 2*time.Minute, cfg.Scheduler.MaxQueueWait.Std())
	require.Equal(t, 10*time.Second, cfg.Health.Interval.Std())
	require.Equal(t, 5, cfg.Recovery.Breaker.FailureThreshold)
	require.Equal(t, time.Minute, cfg.Recovery.Breaker.ResetTimeout.Std())
	require.Len(t, cfg.Workers, 2)
}

func TestParseLayersOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte("logging:\n  level: warn\n"))
	require.NoError(t, err)

	// Untouched sections keep their defaults.
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "load-balancing", cfg.Scheduler.Strategy)
	require.Equal(t, 3, cfg.Recovery.Breaker.FailureThreshold)
	require.Equal(t, 30*time.Second, cfg.Health.Interval.Std())
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad strategy", "scheduler:\n  strategy: round-robin\n"},
		{"bad ratio", "health:\n  min_success_ratio: 1.5\n"},
		{"bad duration", "scheduler:\n  tick_interval: fast\n"},
		{"worker without id", "workers:\n  - priority: 3\n"},
		{"duplicate worker", "workers:\n  - id: w1\n  - id: w1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, core.ErrConfig)
		})
	}
}

func TestWorkerConfigs(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	// The disabled entry is dropped.
	workers := cfg.WorkerConfigs()
	require.Len(t, workers, 1)

	w := workers[0]
	require.Equal(t, "commit-1", w.ID)
	require.Equal(t, 8, w.Priority)
	require.Equal(t, 2, w.MaxConcurrentTasks)
	require.Equal(t, 45*time.Second, w.Timeout)
	require.Equal(t, 1, w.RetryCount)
}

func TestWorkerConfigDefaults(t *testing.T) {
	w := WorkerConfig{ID: "w1"}.ToCore()

	def := core.DefaultWorkerConfig("w1")
	require.Equal(t, def, w)
}

func TestProbes(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Probes(), 1) // self-report only

	full, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, full.Probes(), 4)
}

func TestMiddleware(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Middleware(nil), 1) // logging only

	full, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	mw := full.Middleware(nil)
	require.Len(t, mw, 3)
	require.Equal(t, "logging", mw[0].Name())
	require.Equal(t, "ratelimit", mw[1].Name())
	require.Equal(t, "compression", mw[2].Name())
}

func TestManagerOptions(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	var o manager.Options
	cfg.ManagerOptions()(&o)

	require.Equal(t, "priority-based", o.Strategy.Name())
	require.Equal(t, 50*time.Millisecond, o.TickInterval)
	require.Equal(t, 2*time.Minute, o.MaxQueueWait)
	require.Equal(t, 10*time.Second, o.HealthInterval)
	require.Equal(t, 5, o.Breaker.FailureThreshold)
	require.Equal(t, time.Minute, o.Breaker.ResetTimeout)
	require.Equal(t, 4, o.MaxRecoveryAttempts)
	require.Equal(t, 2, o.ExhaustionLimit)
	require.Len(t, o.Probes, 4)
	require.Len(t, o.Middleware, 3)
	require.NotNil(t, o.Logger)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "priority-based", cfg.Scheduler.Strategy)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, core.ErrConfig)
}
