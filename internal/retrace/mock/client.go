package mock

import (
	"context"
	"strings"

	"github.com/sreeram-v/crashdeck/internal/retrace"
)

// MockClient satisfies retrace.Client for testing.
type MockClient struct {
	RetraceFunc func(ctx context.Context, lines []string, mapping []byte) ([]string, error)
	ReadyFunc   func(ctx context.Context) error
}

func (m *MockClient) Retrace(ctx context.Context, lines []string, mapping []byte) ([]string, error) {
	if m.RetraceFunc != nil {
		return m.RetraceFunc(ctx, lines, mapping)
	}
	return lines, nil
}

func (m *MockClient) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// NewMockClient returns a MockClient that rewrites the obfuscated
// class name "a.b.c" to its real counterpart.
func NewMockClient() *MockClient {
	return &MockClient{
		RetraceFunc: func(_ context.Context, lines []string, _ []byte) ([]string, error) {
			out := make([]string, len(lines))
			for i, line := range lines {
				out[i] = strings.ReplaceAll(line, "a.b.c", "com.example.real.Widget")
			}
			return out, nil
		},
	}
}

// NewFailingClient returns a MockClient that always returns the given error.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		RetraceFunc: func(_ context.Context, _ []string, _ []byte) ([]string, error) {
			return nil, err
		},
	}
}

// NewTimeoutClient returns a MockClient that blocks until context is cancelled.
func NewTimeoutClient() *MockClient {
	return &MockClient{
		RetraceFunc: func(ctx context.Context, _ []string, _ []byte) ([]string, error) {
			<-ctx.Done()
			return nil, retrace.ErrRetraceTimeout
		},
	}
}

// Compile-time check that MockClient implements Client.
var _ retrace.Client = (*MockClient)(nil)
