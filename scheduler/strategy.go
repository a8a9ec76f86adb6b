package scheduler

import (
	"github.com/hupe1980/agentpool/core"
)

// Strategy ranks eligible candidates for one task. The scheduler
// pre-filters candidates for capability match, free capacity, health and
// breaker eligibility; the strategy only decides among them.
//
// Every built-in strategy shares one deterministic tie-break chain: primary
// criterion, then lowest average response time, then lowest worker id.
type Strategy interface {
	// Name identifies the strategy in configuration and logs.
	Name() string

	// SelectWorker returns the chosen worker id, or false when candidates
	// is empty.
	SelectWorker(task core.Task, candidates []WorkerAvailability) (string, bool)
}

// pickBest selects the candidate minimizing the primary key, breaking ties
// by lowest average response time and then lowest id.
func pickBest(candidates []WorkerAvailability, less func(a, b WorkerAvailability) int) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch cmp := less(c, best); {
		case cmp < 0:
			best = c
		case cmp == 0:
			if c.Metrics.AvgResponseTime < best.Metrics.AvgResponseTime {
				best = c
			} else if c.Metrics.AvgResponseTime == best.Metrics.AvgResponseTime && c.WorkerID < best.WorkerID {
				best = c
			}
		}
	}

	return best.WorkerID, true
}

// LoadBalancingStrategy picks the candidate with the lowest load to
// capacity ratio.
type LoadBalancingStrategy struct{}

// Name identifies the strategy.
func (LoadBalancingStrategy) Name() string { return "load-balancing" }

// SelectWorker picks the least loaded candidate.
func (LoadBalancingStrategy) SelectWorker(_ core.Task, candidates []WorkerAvailability) (string, bool) {
	return pickBest(candidates, func(a, b WorkerAvailability) int {
		ra, rb := a.LoadRatio(), b.LoadRatio()
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		default:
			return 0
		}
	})
}

// PriorityBasedStrategy prefers the candidate with the highest configured
// worker priority.
type PriorityBasedStrategy struct{}

// Name identifies the strategy.
func (PriorityBasedStrategy) Name() string { return "priority-based" }

// SelectWorker picks the highest priority candidate.
func (PriorityBasedStrategy) SelectWorker(_ core.Task, candidates []WorkerAvailability) (string, bool) {
	return pickBest(candidates, func(a, b WorkerAvailability) int {
		// Higher priority wins, so invert the comparison.
		switch {
		case a.Priority > b.Priority:
			return -1
		case a.Priority < b.Priority:
			return 1
		default:
			return 0
		}
	})
}

// CapabilityMatchStrategy prefers the most specialized candidate: the one
// whose capability set is the smallest superset of what the task needs.
type CapabilityMatchStrategy struct{}

// Name identifies the strategy.
func (CapabilityMatchStrategy) Name() string { return "capability-match" }

// SelectWorker picks the candidate with the fewest declared capabilities.
func (CapabilityMatchStrategy) SelectWorker(_ core.Task, candidates []WorkerAvailability) (string, bool) {
	return pickBest(candidates, func(a, b WorkerAvailability) int {
		switch {
		case len(a.Capabilities) < len(b.Capabilities):
			return -1
		case len(a.Capabilities) > len(b.Capabilities):
			return 1
		default:
			return 0
		}
	})
}

// StrategyByName resolves a configuration string to a built-in strategy.
// Unknown names fall back to load balancing.
func StrategyByName(name string) Strategy {
	switch name {
	case "priority-based":
		return PriorityBasedStrategy{}
	case "capability-match":
		return CapabilityMatchStrategy{}
	default:
		return LoadBalancingStrategy{}
	}
}
