package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/pkg/anthropic"
)

// AnthropicInvoker calls the Anthropic Messages API.
type AnthropicInvoker struct {
	client anthropic.Client
}

// NewAnthropicInvoker creates an AnthropicInvoker.
func NewAnthropicInvoker(client anthropic.Client) *AnthropicInvoker {
	return &AnthropicInvoker{client: client}
}

func (a *AnthropicInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	temp, topP := req.Temperature, req.TopP
	msgReq := anthropic.MessageRequest{
		Model:       req.ModelID,
		MaxTokens:   int64(req.MaxOutputTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	}
	if topP > 0 && topP < 1 {
		msgReq.TopP = &topP
	}

	resp, err := a.client.CreateMessage(ctx, msgReq)
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			err = resilience.NewTransientError(err, code)
		}
		return nil, eris.Wrapf(err, "anthropic: invoke %s", req.ModelID)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, eris.Wrapf(ErrEmptyResponse, "anthropic: %s", req.ModelID)
	}
	return &Response{
		Text:    text,
		ModelID: req.ModelID,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
