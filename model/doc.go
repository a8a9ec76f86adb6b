// Package model defines the LLM provider abstraction used by the concrete
// workers. A Model turns one prompt into one completion; provider adapters
// live in the subpackages (anthropic, openai) and a MockModel supports
// tests without network access.
package model
