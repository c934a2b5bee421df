package openai

import (
	"context"
	"errors"
	"testing"

	"hermes/internal/ai"
	"hermes/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

type fakeLLM struct {
	answer string
	err    error

	messages [][]llms.MessageContent
	options  []llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.messages = append(f.messages, messages)
	f.options = append(f.options, opts)

	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
	texts   []string
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.texts = append(f.texts, texts...)
	return f.vectors, f.err
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil || len(vs) == 0 {
		return nil, err
	}
	return vs[0], nil
}

func newTestProvider(llm *fakeLLM, emb *fakeEmbedder) *Provider {
	return NewWithModels(llm, emb, config.DefaultConfig().AI, zap.NewNop())
}

func TestProvider_EmbedText(t *testing.T) {
	emb := &fakeEmbedder{vectors: [][]float32{{0.1, 0.2}}}
	p := newTestProvider(&fakeLLM{}, emb)

	v, err := p.EmbedText(context.Background(), "Dólar sube\n\ncuerpo")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, v)
	assert.Equal(t, []string{"Dólar sube\n\ncuerpo"}, emb.texts)

	_, err = newTestProvider(&fakeLLM{}, &fakeEmbedder{}).EmbedText(context.Background(), "x")
	assert.Error(t, err, "empty embedding must be an error")

	_, err = newTestProvider(&fakeLLM{}, &fakeEmbedder{err: errors.New("quota")}).EmbedText(context.Background(), "x")
	assert.Error(t, err)
}

func TestProvider_Score(t *testing.T) {
	llm := &fakeLLM{answer: "8"}
	p := newTestProvider(llm, &fakeEmbedder{})

	got := p.Score(context.Background(), "Título", "contenido")
	assert.Equal(t, ai.OK(8), got)

	prompt := llm.messages[0][0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "Title: Título")
	assert.Contains(t, prompt, "Content Snippet: contenido")

	llm.answer = "muy interesante"
	got = p.Score(context.Background(), "Título", "contenido")
	assert.True(t, got.Fallback)
	assert.Equal(t, ai.DefaultScore, got.Value)

	llm.err = errors.New("timeout")
	got = p.Score(context.Background(), "Título", "contenido")
	assert.True(t, got.Fallback)
	assert.Equal(t, ai.DefaultScore, got.Value)
}

func TestProvider_Rewrite(t *testing.T) {
	llm := &fakeLLM{answer: `{"title": "Nuevo título", "content": "Nuevo cuerpo"}`}
	p := newTestProvider(llm, &fakeEmbedder{})

	got := p.Rewrite(context.Background(), "Viejo", "Cuerpo", "")
	assert.False(t, got.Fallback)
	assert.Equal(t, ai.Rewrite{Title: "Nuevo título", Content: "Nuevo cuerpo"}, got.Value)
	assert.True(t, llm.options[0].JSONMode)

	prompt := llm.messages[0][0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "Style: neutral")

	llm.answer = "I cannot do that"
	got = p.Rewrite(context.Background(), "Viejo", "Cuerpo", "formal")
	assert.True(t, got.Fallback)
	assert.Equal(t, ai.Rewrite{Title: "Viejo", Content: "Cuerpo"}, got.Value)
}

func TestProvider_SelectBestImage(t *testing.T) {
	llm := &fakeLLM{answer: `{"selectedIndex": 2}`}
	p := newTestProvider(llm, &fakeEmbedder{})
	urls := []string{"http://i/1", "http://i/2", "http://i/3", "http://i/4", "http://i/5", "http://i/6", "http://i/7"}

	got := p.SelectBestImage(context.Background(), "T", "C", urls)
	assert.Equal(t, ai.OK(2), got)

	require.Len(t, llm.messages, 1)
	images := 0
	for _, part := range llm.messages[0][1].Parts {
		if _, ok := part.(llms.ImageURLContent); ok {
			images++
		}
	}
	assert.Equal(t, ai.MaxImageChoices, images, "only the first candidates are offered")
	assert.Equal(t, 50, llm.options[0].MaxTokens)
}

func TestProvider_SelectBestImageSingleCandidate(t *testing.T) {
	llm := &fakeLLM{}
	p := newTestProvider(llm, &fakeEmbedder{})

	assert.Equal(t, ai.OK(0), p.SelectBestImage(context.Background(), "T", "C", []string{"http://i/1"}))
	assert.Empty(t, llm.messages, "no request for a single candidate")

	assert.True(t, p.SelectBestImage(context.Background(), "T", "C", nil).Fallback)
}

func TestProvider_SelectBestImageProviderError(t *testing.T) {
	p := newTestProvider(&fakeLLM{err: errors.New("rate limited")}, &fakeEmbedder{})

	got := p.SelectBestImage(context.Background(), "T", "C", []string{"http://a", "http://b"})
	assert.True(t, got.Fallback)
	assert.Zero(t, got.Value)
	assert.Error(t, got.Err)
}
