// Package health implements the worker health monitor.
//
// The Monitor keeps a set of watched workers and evaluates each one with a
// list of pluggable probes. Verdicts from all probes are combined by
// worst-of precedence (Unhealthy > Degraded > Healthy > Unknown). An
// unhealthy verdict increments the worker's consecutive failure counter and
// raises a FailureInfo through the configured callback; a healthy verdict
// resets the counter. Checks run on a fixed interval and can also be
// triggered on demand.
package health
