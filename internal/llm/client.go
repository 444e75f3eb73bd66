// Package llm is the text-completion boundary. Every model call in the
// marketplace goes through a Client; providers adapt a vendor SDK to it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentstack/agentstack/internal/config"
)

// Client produces a text completion.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is a single-turn completion request. System may be empty.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// ErrTimeout is wrapped by errors returned from Call when the per-call
// deadline expires.
var ErrTimeout = errors.New("timed out")

// Call runs req against client with its own timeout. Timeouts are reported as
// "<label> timed out after <timeout>" so failed agents can be told apart in
// logs and summaries.
func Call(ctx context.Context, client Client, label string, req Request, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := client.Generate(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%s %w after %s", label, ErrTimeout, timeout)
		}
		return "", fmt.Errorf("%s: %w", label, err)
	}
	return text, nil
}

// New returns the client for cfg.Provider.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic, "":
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// StripCodeFences removes a surrounding ``` or ```json fence from s.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string (e.g. "json").
		if !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
