// Package worker contains the concrete worker implementations behind the
// shared core.Worker contract: LLM-backed workers for commit messages,
// code analysis, review and search, plus a websocket bridge to remote
// capability providers. Base carries the lifecycle state machine and
// config handling every variant embeds.
package worker
