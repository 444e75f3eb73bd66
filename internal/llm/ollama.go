package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient implements Client over a local Ollama server.
type OllamaClient struct {
	client *api.Client
}

// NewOllamaClient creates a client for baseURL, or for OLLAMA_HOST when
// baseURL is empty.
func NewOllamaClient(baseURL string) (*OllamaClient, error) {
	if baseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		return &OllamaClient{client: c}, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama base url: %w", err)
	}
	return &OllamaClient{client: api.NewClient(u, http.DefaultClient)}, nil
}

// Generate runs a non-streaming generate call.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	stream := false
	gen := &api.GenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: &stream,
	}
	if req.MaxTokens > 0 {
		gen.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var b strings.Builder
	err := c.client.Generate(ctx, gen, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
