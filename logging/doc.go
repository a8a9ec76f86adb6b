// Package logging provides structured logging for AgentPool.
//
// The Logger interface is the minimal contract used throughout the engine;
// SlogAdapter bridges it to log/slog and NoOpLogger discards everything.
// PoolLogger adds contextual cloning (component, worker, task) plus domain
// helpers for task execution, health checks, model calls and recovery.
package logging
