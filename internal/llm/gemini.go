package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/osintube/threatscan/internal/resilience"
)

// geminiGenerate runs one GenerateContent call against a configured model.
type geminiGenerate func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error)

// GeminiInvoker calls Google Gemini models.
type GeminiInvoker struct {
	client   *genai.Client
	generate geminiGenerate
}

// NewGeminiInvoker creates a GeminiInvoker authenticated with an API key.
func NewGeminiInvoker(ctx context.Context, apiKey string) (*GeminiInvoker, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &GeminiInvoker{
		client: client,
		generate: func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
			return model.GenerateContent(ctx, genai.Text(prompt))
		},
	}, nil
}

// Close releases the underlying client.
func (g *GeminiInvoker) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiInvoker) model(req Request) *genai.GenerativeModel {
	var m *genai.GenerativeModel
	if g.client != nil {
		m = g.client.GenerativeModel(req.ModelID)
	} else {
		m = &genai.GenerativeModel{}
	}
	m.SetTemperature(float32(req.Temperature))
	if req.TopP > 0 {
		m.SetTopP(float32(req.TopP))
	}
	if req.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxOutputTokens))
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}
	return m
}

func (g *GeminiInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.generate(ctx, g.model(req), req.Prompt)
	if err != nil {
		return nil, eris.Wrapf(classifyGeminiError(err), "gemini: invoke %s", req.ModelID)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, eris.Wrapf(ErrEmptyResponse, "gemini: %s: no candidates", req.ModelID)
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, eris.Wrapf(ErrEmptyResponse, "gemini: %s: finish reason %s", req.ModelID, cand.FinishReason)
	}

	out := &Response{Text: sb.String(), ModelID: req.ModelID}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// classifyGeminiError marks unavailable, exhausted-quota and deadline
// failures as transient, whether they arrive as gRPC or REST errors.
func classifyGeminiError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && resilience.IsTransientHTTPStatus(gErr.Code) {
		return resilience.NewTransientError(err, gErr.Code)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return resilience.NewTransientError(err, 0)
		}
	}
	return err
}
