package images

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIGenerator_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data": [{"url": "https://img.test/generated.png"}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL+"/v1/", "sk-test", "dall-e-3", "1024x1024", 0, zap.NewNop())
	u, err := g.Generate(context.Background(), "Dólar sube")
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/generated.png", u)

	assert.Equal(t, "dall-e-3", got["model"])
	assert.Equal(t, "1024x1024", got["size"])
	assert.Contains(t, got["prompt"], `titled: "Dólar sube"`)
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusTooManyRequests, `{"error": {"message": "rate limited"}}`},
		{"empty data", http.StatusOK, `{"data": []}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIGenerator(srv.URL, "", "dall-e-3", "1024x1024", 0, zap.NewNop()).
				Generate(context.Background(), "T")
			assert.Error(t, err)
		})
	}
}
