// Package generation defines the text generation provider used for insights
// and ships an HTTP client for OpenAI-compatible chat completion APIs.
package generation

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrProviderUnavailable means generation is not configured. It is an
	// expected condition and callers degrade to fallback content.
	ErrProviderUnavailable = errors.New("generation provider not configured")
	// ErrProvider wraps any failure of an individual generation request.
	ErrProvider = errors.New("generation provider error")
)

// Kind identifies what a generation task produces.
type Kind string

const (
	KindNarrative           Kind = "narrative"
	KindAffirmation         Kind = "affirmation"
	KindConflictExplanation Kind = "conflictExplanation"
	KindPrepSuggestion      Kind = "prepSuggestion"
	KindDecisionOptions     Kind = "decisionOptions"
)

// Task is a single prompt dispatched during a fan-out.
type Task struct {
	Kind          Kind
	CorrelationID string
	Prompt        string
	MaxTokens     int
}

// Result is the raw completion for a Task, matched back by CorrelationID.
type Result struct {
	Kind          Kind
	CorrelationID string
	RawText       string
}

// Provider generates complete responses for batch tasks.
type Provider interface {
	// Configured reports whether the provider can be called at all.
	Configured() bool

	// Generate runs one task to completion.
	Generate(ctx context.Context, task Task) (Result, error)
}

// Streamer produces incremental text for a single prompt.
type Streamer interface {
	Configured() bool

	// Stream yields text chunks as they arrive. Iteration stops at the first
	// error or when the caller stops ranging.
	Stream(ctx context.Context, prompt string, maxTokens int) iter.Seq2[string, error]
}
