package testutil

import (
	"context"
	"testing"
	"time"
)

const (
	// DefaultRunTimeout bounds a full scripted run against the mock LLM.
	DefaultRunTimeout = 30 * time.Second

	// deadlineBuffer is left between the context deadline and the test
	// deadline so failures are reported before go test kills the binary.
	deadlineBuffer = 5 * time.Second
)

// RunContext returns a context for one engine run. It ends deadlineBuffer
// before the test deadline, or after DefaultRunTimeout without one.
func RunContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return contextBefore(t, DefaultRunTimeout)
}

func contextBefore(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		if d := deadline.Add(-deadlineBuffer); time.Until(d) > 0 && time.Until(d) < fallback {
			return context.WithDeadline(context.Background(), d)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}
