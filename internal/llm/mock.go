package llm

import (
	"context"
	"errors"
	"sync"
)

// MockClient is a Client driven by a handler func. It records every request
// and is safe for concurrent use.
type MockClient struct {
	Handler func(ctx context.Context, req Request) (string, error)

	mu    sync.Mutex
	calls []Request
}

// NewMockClient creates a mock with the given handler.
func NewMockClient(handler func(ctx context.Context, req Request) (string, error)) *MockClient {
	return &MockClient{Handler: handler}
}

// Generate records req and delegates to Handler.
func (m *MockClient) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.Handler == nil {
		return "", errors.New("mock: no handler")
	}
	return m.Handler(ctx, req)
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
