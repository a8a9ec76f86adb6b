// Package core defines the shared data model and the worker contract for
// AgentPool: tasks, results, messages, capabilities, health values, failure
// records and the error taxonomy used across the orchestration engine.
//
// Every other package depends on core; core depends only on the standard
// library and uuid. Types that cross the bus are JSON round-trip safe:
// encoding then decoding any Task, TaskResult, Message or BroadcastEvent
// reproduces an equal value.
package core
