// Package config is the file-based configuration surface of the pool: a
// YAML document covering workers, scheduler limits, health probing,
// breaker thresholds and bus middleware, plus a watcher that delivers live
// updates when the file changes on disk.
package config
