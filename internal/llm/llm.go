// Package llm invokes text-generation models: prompt in, text out.
package llm

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = eris.New("llm: empty response")

// Request is one model invocation.
type Request struct {
	ModelID         string
	System          string
	Prompt          string
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	// JSON asks providers that support it for a JSON-only response.
	JSON bool
}

// Usage counts tokens consumed by one invocation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the text produced by one invocation.
type Response struct {
	Text    string
	ModelID string
	Usage   Usage
}

// Invoker sends a prompt to a model. Implementations never retry; a failed
// invocation is reported to the caller as is.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
