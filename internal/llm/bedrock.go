package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/resilience"
)

// BedrockAPI is the subset of the Bedrock runtime client used here.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockInvoker calls models hosted on Amazon Bedrock. Meta Llama and
// Anthropic model families are supported; the request body is chosen from
// the model id.
type BedrockInvoker struct {
	client BedrockAPI
}

// NewBedrockInvoker creates a BedrockInvoker.
func NewBedrockInvoker(client BedrockAPI) *BedrockInvoker {
	return &BedrockInvoker{client: client}
}

// NewBedrockClient builds a runtime client with SDK retries disabled.
func NewBedrockClient(cfg aws.Config, region string) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if region != "" {
			o.Region = region
		}
		o.RetryMaxAttempts = 1
	})
}

type llamaRequest struct {
	Prompt      string  `json:"prompt"`
	MaxGenLen   int     `json:"max_gen_len"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type llamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
	StopReason           string `json:"stop_reason"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func isClaudeModel(modelID string) bool {
	return strings.Contains(modelID, "anthropic.")
}

// llamaPrompt wraps system and user text in the Llama 3/4 chat template.
func llamaPrompt(system, prompt string) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	if system != "" {
		sb.WriteString("<|start_header_id|>system<|end_header_id|>\n\n")
		sb.WriteString(system)
		sb.WriteString("<|eot_id|>")
	}
	sb.WriteString("<|start_header_id|>user<|end_header_id|>\n\n")
	sb.WriteString(prompt)
	sb.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

func (b *BedrockInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	claude := isClaudeModel(req.ModelID)

	var body any
	if claude {
		body = claudeRequest{
			AnthropicVersion: "bedrock-2023-05-31",
			MaxTokens:        req.MaxOutputTokens,
			System:           req.System,
			Messages:         []claudeMessage{{Role: "user", Content: req.Prompt}},
			Temperature:      req.Temperature,
			TopP:             req.TopP,
		}
	} else {
		body = llamaRequest{
			Prompt:      llamaPrompt(req.System, req.Prompt),
			MaxGenLen:   req.MaxOutputTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "bedrock: encode request")
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.ModelID),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, eris.Wrapf(classifyBedrockError(err), "bedrock: invoke %s", req.ModelID)
	}

	resp := &Response{ModelID: req.ModelID}
	if claude {
		var cr claudeResponse
		if err := json.Unmarshal(out.Body, &cr); err != nil {
			return nil, eris.Wrap(err, "bedrock: decode response")
		}
		var sb strings.Builder
		for _, c := range cr.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		resp.Text = sb.String()
		resp.Usage = Usage{InputTokens: cr.Usage.InputTokens, OutputTokens: cr.Usage.OutputTokens}
	} else {
		var lr llamaResponse
		if err := json.Unmarshal(out.Body, &lr); err != nil {
			return nil, eris.Wrap(err, "bedrock: decode response")
		}
		resp.Text = lr.Generation
		resp.Usage = Usage{InputTokens: lr.PromptTokenCount, OutputTokens: lr.GenerationTokenCount}
	}

	if strings.TrimSpace(resp.Text) == "" {
		return nil, eris.Wrapf(ErrEmptyResponse, "bedrock: %s", req.ModelID)
	}
	return resp, nil
}

var bedrockTransientCodes = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"ModelTimeoutException":       true,
	"ModelNotReadyException":      true,
	"InternalServerException":     true,
	"TooManyRequestsException":    true,
}

// classifyBedrockError marks throttling, timeouts and 5xx as transient.
func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && bedrockTransientCodes[apiErr.ErrorCode()] {
		return resilience.NewTransientError(err, 0)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && resilience.IsTransientHTTPStatus(respErr.HTTPStatusCode()) {
		return resilience.NewTransientError(err, respErr.HTTPStatusCode())
	}
	return err
}
