package llm

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/resilience"
)

// OpenAIInvoker calls OpenAI or any endpoint speaking the chat completions
// protocol.
type OpenAIInvoker struct {
	client openai.Client
}

// NewOpenAIInvoker creates an OpenAIInvoker. baseURL may be empty for the
// public API; a missing "/v1" suffix is added.
func NewOpenAIInvoker(apiKey, baseURL string) *OpenAIInvoker {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(baseURL); normalized != "" {
		opts = append(opts, option.WithBaseURL(normalized))
	}
	return &OpenAIInvoker{client: openai.NewClient(opts...)}
}

func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.ModelID),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			err = resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, eris.Wrapf(err, "openai: invoke %s", req.ModelID)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, eris.Wrapf(ErrEmptyResponse, "openai: %s", req.ModelID)
	}

	return &Response{
		Text:    resp.Choices[0].Message.Content,
		ModelID: req.ModelID,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
