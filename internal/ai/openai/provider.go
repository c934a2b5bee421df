// Package openai implements the ai capabilities against any OpenAI-compatible
// API through langchaingo.
package openai

import (
	"context"
	"errors"
	"fmt"

	"hermes/internal/ai"
	"hermes/internal/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// Provider serves both ai.Embedder and ai.Chat.
type Provider struct {
	llm      llms.Model
	embedder embeddings.Embedder
	cfg      config.AIConfig
	logger   *zap.Logger
}

var (
	_ ai.Embedder = (*Provider)(nil)
	_ ai.Chat     = (*Provider)(nil)
)

// New dials nothing; it only builds the langchaingo clients.
func New(cfg config.AIConfig, logger *zap.Logger) (*Provider, error) {
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.Token),
		openai.WithModel(cfg.ChatModel),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewWithModels(client, embedder, cfg, logger), nil
}

// NewWithModels wires already-built models, mostly for tests.
func NewWithModels(llm llms.Model, embedder embeddings.Embedder, cfg config.AIConfig, logger *zap.Logger) *Provider {
	if cfg.RewritePrompt == "" {
		cfg.RewritePrompt = ai.DefaultRewritePrompt
	}
	if cfg.InterestPrompt == "" {
		cfg.InterestPrompt = ai.DefaultInterestPrompt
	}
	if cfg.RewriteStyle == "" {
		cfg.RewriteStyle = "neutral"
	}
	return &Provider{
		llm:      llm,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "openai")),
	}
}

func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vectors, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("embedding failed: empty result")
	}
	return vectors[0], nil
}

func (p *Provider) Score(ctx context.Context, title, content string) ai.Outcome[int] {
	prompt := ai.Render(p.cfg.InterestPrompt, "", title, ai.Truncate(content, ai.InterestContentLimit))
	raw, err := p.complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return ai.FallbackTo(ai.DefaultScore, err)
	}
	return ai.ParseScore(raw)
}

func (p *Provider) Rewrite(ctx context.Context, title, content, style string) ai.Outcome[ai.Rewrite] {
	if style == "" {
		style = p.cfg.RewriteStyle
	}
	prompt := ai.Render(p.cfg.RewritePrompt, style, title, ai.Truncate(content, ai.RewriteContentLimit))
	raw, err := p.complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithJSONMode())
	if err != nil {
		return ai.FallbackTo(ai.Rewrite{Title: title, Content: content}, err)
	}

	out := ai.ParseRewrite(raw, title, content)
	if out.Fallback {
		p.logger.Debug("unusable rewrite answer", zap.String("raw", raw), zap.Error(out.Err))
	}
	return out
}

func (p *Provider) SelectBestImage(ctx context.Context, title, content string, urls []string) ai.Outcome[int] {
	switch len(urls) {
	case 0:
		return ai.FallbackTo(0, errors.New("no image candidates"))
	case 1:
		return ai.OK(0)
	}
	if len(urls) > ai.MaxImageChoices {
		urls = urls[:ai.MaxImageChoices]
	}

	parts := []llms.ContentPart{
		llms.TextPart(fmt.Sprintf("Article Title: %s\nContent Snippet: %s\n\nSelect the best image from the following:",
			title, ai.Truncate(content, ai.SelectContentLimit))),
	}
	for _, u := range urls {
		parts = append(parts, llms.ImageURLPart(u))
	}

	raw, err := p.complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ai.SelectImagePrompt),
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}, llms.WithJSONMode(), llms.WithMaxTokens(50))
	if err != nil {
		return ai.FallbackTo(0, err)
	}
	return ai.ParseSelection(raw)
}

func (p *Provider) complete(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		p.logger.Warn("completion failed", zap.Error(err))
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ai.ErrMalformed)
	}
	return resp.Choices[0].Content, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.RequestTimeout)
}
