package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const generationPrompt = `A professional news editorial illustration for an article titled: "%s". Style: Photorealistic or detailed editorial illustration, neutral, high quality.`

// OpenAIGenerator calls an OpenAI-compatible /images/generations endpoint.
type OpenAIGenerator struct {
	endpoint string
	token    string
	model    string
	size     string
	client   *http.Client
	logger   *zap.Logger
}

func NewOpenAIGenerator(baseURL, token, model, size string, timeout time.Duration, logger *zap.Logger) *OpenAIGenerator {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIGenerator{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/images/generations",
		token:    token,
		model:    model,
		size:     size,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("component", "image_generator")),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, title string) (string, error) {
	payload := map[string]any{
		"model":  g.model,
		"prompt": fmt.Sprintf(generationPrompt, title),
		"n":      1,
		"size":   g.size,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("image generation: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode image generation response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no url")
	}

	g.logger.Debug("image generated", zap.String("title", title))
	return result.Data[0].URL, nil
}
