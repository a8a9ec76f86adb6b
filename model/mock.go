package model

import (
	"context"
	"sync"
)

// MockModel is a deterministic Model for tests. It records every request
// and replies with a fixed response, a per-call function, or an error.
type MockModel struct {
	// ResponseText is returned when CompleteFn is nil.
	ResponseText string

	// Err, when set, is returned from every Complete call.
	Err error

	// CompleteFn overrides the default behavior entirely.
	CompleteFn func(ctx context.Context, req Request) (Response, error)

	mu       sync.Mutex
	requests []Request
}

// Info identifies the mock.
func (m *MockModel) Info() Info {
	return Info{Name: "mock", Provider: "mock"}
}

// Complete records the request and replies per the mock's configuration.
func (m *MockModel) Complete(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, req)
	}

	if m.Err != nil {
		return Response{}, m.Err
	}

	return Response{Text: m.ResponseText, Model: "mock", FinishReason: "stop"}, nil
}

// Requests returns a copy of every recorded request.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

// CallCount returns how many times Complete was invoked.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}
