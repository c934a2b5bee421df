// Package ai defines the language-model capabilities the enrichment pipeline
// consumes and the provider-independent parsing of their answers.
package ai

import (
	"context"
	"errors"
)

// ErrMalformed is wrapped by parse failures of a model answer.
var ErrMalformed = errors.New("malformed model response")

// DefaultScore is used whenever a provider cannot produce a usable rating.
const DefaultScore = 5

// Embedder turns text into a vector comparable by cosine distance.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Rewrite is a rewritten headline and body.
type Rewrite struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Chat is the completion capability. It never fails outright: every method
// resolves to either a real answer or its documented fallback.
type Chat interface {
	// Score rates public interest from 1 to 10, falling back to DefaultScore.
	Score(ctx context.Context, title, content string) Outcome[int]
	// Rewrite falls back to the original title and content, field by field.
	Rewrite(ctx context.Context, title, content, style string) Outcome[Rewrite]
	// SelectBestImage returns a zero-based index into urls. The caller is
	// responsible for range-checking it; malformed answers fall back to 0.
	SelectBestImage(ctx context.Context, title, content string, urls []string) Outcome[int]
}

// Outcome is the result of a call with a defined fallback. When Fallback is
// set, Value holds the fallback and Err says what went wrong.
type Outcome[T any] struct {
	Value    T
	Fallback bool
	Err      error
}

func OK[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func FallbackTo[T any](v T, err error) Outcome[T] {
	return Outcome[T]{Value: v, Fallback: true, Err: err}
}
