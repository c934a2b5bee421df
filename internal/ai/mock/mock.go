// Package mock provides configurable in-memory doubles for the ai interfaces.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"hermes/internal/ai"
)

// Embedder returns EmbedTextFunc's result when set, otherwise a
// deterministic vector derived from the text.
type Embedder struct {
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	calls []string
}

func (m *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return DeterministicVector(text, 16), nil
}

// Calls returns the texts embedded so far.
func (m *Embedder) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Chat answers with its Func fields or, when unset, a neutral success:
// score 5, the text echoed back, index 0.
type Chat struct {
	ScoreFunc   func(ctx context.Context, title, content string) ai.Outcome[int]
	RewriteFunc func(ctx context.Context, title, content, style string) ai.Outcome[ai.Rewrite]
	SelectFunc  func(ctx context.Context, title, content string, urls []string) ai.Outcome[int]

	mu         sync.Mutex
	scoreCalls int
	selects    [][]string
}

func (m *Chat) Score(ctx context.Context, title, content string) ai.Outcome[int] {
	m.mu.Lock()
	m.scoreCalls++
	m.mu.Unlock()

	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, title, content)
	}
	return ai.OK(ai.DefaultScore)
}

func (m *Chat) Rewrite(ctx context.Context, title, content, style string) ai.Outcome[ai.Rewrite] {
	if m.RewriteFunc != nil {
		return m.RewriteFunc(ctx, title, content, style)
	}
	return ai.OK(ai.Rewrite{Title: title, Content: content})
}

func (m *Chat) SelectBestImage(ctx context.Context, title, content string, urls []string) ai.Outcome[int] {
	m.mu.Lock()
	m.selects = append(m.selects, append([]string(nil), urls...))
	m.mu.Unlock()

	if m.SelectFunc != nil {
		return m.SelectFunc(ctx, title, content, urls)
	}
	return ai.OK(0)
}

// ScoreCalls reports how many times Score ran.
func (m *Chat) ScoreCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreCalls
}

// Selections returns the url lists passed to SelectBestImage.
func (m *Chat) Selections() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.selects...)
}

// DeterministicVector hashes text into a vector of dim entries in [-1, 1).
// Vectors of different texts are close to orthogonal.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	v := make([]float32, dim)
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%2000)/1000.0 - 0.999
	}
	return v
}
