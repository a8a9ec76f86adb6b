package manager

import (
	"context"
	"sort"
	"time"

	"github.com/hupe1980/agentpool/core"
)

// handleFailure is the manager's single entry point for failures detected
// by the monitor and the scheduler. It marks the worker unavailable, runs
// the recovery pipeline and republishes the worker's health afterwards.
func (m *Manager) handleFailure(failure core.FailureInfo) {
	id := failure.WorkerID

	m.sched.UpdateHealth(id, core.Unhealthy(failure.Message))

	m.mu.Lock()
	if m.recovering[id] {
		m.mu.Unlock()
		m.logger.Debug("Recovery already in flight", "worker_id", id, "kind", string(failure.Kind))
		return
	}
	m.recovering[id] = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.recovering, id)
			m.mu.Unlock()
		}()

		if err := m.recovery.HandleFailure(context.Background(), failure); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.InitTimeout)
		defer cancel()

		if verdict, err := m.monitor.PerformHealthCheck(ctx, id); err == nil {
			m.sched.UpdateHealth(id, verdict)
		}
	}()
}

// onExhausted escalates a worker whose recovery budget is spent. The
// worker is marked Error; past the exhaustion limit it is evicted from the
// pool.
func (m *Manager) onExhausted(failure core.FailureInfo) {
	id := failure.WorkerID

	m.mu.Lock()
	reg, ok := m.workers[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.exhausted[id]++
	evict := m.exhausted[id] >= m.opts.ExhaustionLimit
	m.mu.Unlock()

	if marker, ok := reg.worker.(interface{ MarkError(msg string) }); ok {
		marker.MarkError(failure.Message)
	}

	m.logger.Error("Worker recovery exhausted", "worker_id", id, "kind", string(failure.Kind), "evict", evict)

	if !evict {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ShutdownTimeout)
		defer cancel()

		if err := m.UnregisterWorker(ctx, id); err != nil {
			return
		}

		ev := core.NewBroadcastEvent(ManagerID, core.EventWorkerRemoved)
		ev.Name = id
		m.bus.Broadcast(ev)
	}()
}

// Worker resolves a worker id to its instance for the restart strategy.
func (m *Manager) Worker(id string) (core.Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reg, ok := m.workers[id]
	if !ok {
		return nil, false
	}

	return reg.worker, true
}

// FindFailoverCandidate returns a registered worker with overlapping
// capability, available capacity and non-unhealthy standing.
func (m *Manager) FindFailoverCandidate(failedID string) (string, bool) {
	m.mu.RLock()
	failed, ok := m.workers[failedID]
	m.mu.RUnlock()

	if !ok {
		return "", false
	}

	failedCaps := failed.worker.Capabilities()

	var candidates []string
	for _, av := range m.sched.Availability() {
		if av.WorkerID == failedID || av.Health.State == core.HealthUnhealthy || !av.HasSlot() {
			continue
		}

		for _, cap := range failedCaps {
			if core.HasCapability(av.Capabilities, cap) {
				candidates = append(candidates, av.WorkerID)
				break
			}
		}
	}

	if len(candidates) == 0 {
		return "", false
	}

	sort.Strings(candidates)

	return candidates[0], true
}

// DegradeWorker halves the worker's concurrent-task capacity, keeping at
// least one slot.
func (m *Manager) DegradeWorker(id string) error {
	m.mu.RLock()
	reg, ok := m.workers[id]
	m.mu.RUnlock()

	if !ok {
		return core.ErrWorkerNotFound
	}

	cfg := reg.worker.Config()
	if cfg.MaxConcurrentTasks > 1 {
		cfg.MaxConcurrentTasks /= 2
	}

	if err := reg.worker.UpdateConfig(cfg); err != nil {
		return err
	}

	m.sched.UpdateWorkerConfig(cfg)
	m.sched.UpdateHealth(id, core.Degraded("capacity reduced after failures"))

	m.logger.Warn("Worker degraded", "worker_id", id, "max_concurrent_tasks", cfg.MaxConcurrentTasks)

	return nil
}

// syncHealthLoop republishes the monitor's verdicts into the scheduler's
// availability table so selection sees fresh health.
func (m *Manager) syncHealthLoop(ctx context.Context) error {
	interval := m.opts.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, id := range m.monitor.Monitored() {
			if verdict, ok := m.monitor.LastVerdict(id); ok {
				m.sched.UpdateHealth(id, verdict)
			}
		}
	}
}
