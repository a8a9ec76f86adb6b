// Package recovery implements per-worker fault isolation and remediation.
//
// Every worker gets a lazily created CircuitBreaker: consecutive failures
// open it and exclude the worker from selection until the reset timeout
// elapses and probe traffic demonstrates recovery. Independently, the
// Manager runs pluggable recovery strategies (restart, failover, degrade)
// in priority order on every reported failure, with a bounded attempt
// budget per worker and an escalation callback on exhaustion.
package recovery
