package model

import (
	"context"
)

// TokenUsage captures token usage statistics for a completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the normalized single-shot model input built by workers from a
// task's context.
type Request struct {
	// System is the optional system instruction.
	System string `json:"system,omitempty"`

	// Prompt is the user prompt.
	Prompt string `json:"prompt"`

	// MaxTokens caps the completion length. Zero uses the adapter default.
	MaxTokens int64 `json:"max_tokens,omitempty"`

	// Temperature overrides the adapter default when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Response is the completion returned by a provider.
type Response struct {
	// Text is the completion text.
	Text string `json:"text"`

	// Model is the provider's reported model id.
	Model string `json:"model,omitempty"`

	// FinishReason is "stop", "length" or a provider specific value.
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage carries token statistics when the provider reports them.
	Usage *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the single-shot completion contract the workers depend on.
type Model interface {
	// Info returns metadata about the underlying model.
	Info() Info

	// Complete executes one prompt and returns the completion. It blocks
	// until the provider answers or ctx ends.
	Complete(ctx context.Context, req Request) (Response, error)
}
