package llm

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/config"
	"github.com/osintube/threatscan/internal/cost"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/pkg/anthropic"
)

// FromConfig builds the guarded invoker for the configured provider. awsCfg
// is only used by the bedrock provider.
func FromConfig(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (*Guard, error) {
	var (
		inner Invoker
		model string
	)

	switch cfg.LLM.Provider {
	case "bedrock":
		region := cfg.Bedrock.Region
		if region == "" {
			region = cfg.AWS.Region
		}
		inner = NewBedrockInvoker(NewBedrockClient(awsCfg, region))
		model = cfg.Bedrock.ModelID
	case "anthropic":
		inner = NewAnthropicInvoker(anthropic.NewClient(cfg.Anthropic.Key, anthropic.Options{BaseURL: cfg.Anthropic.BaseURL}))
		model = cfg.Anthropic.Model
	case "gemini":
		g, err := NewGeminiInvoker(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, err
		}
		inner = g
		model = cfg.Gemini.Model
	case "openai":
		inner = NewOpenAIInvoker(cfg.OpenAI.Key, cfg.OpenAI.BaseURL)
		model = cfg.OpenAI.Model
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}

	return NewGuard(inner, GuardOptions{
		DefaultModel:      model,
		Timeout:           time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Breakers:          resilience.NewBreakers(resilience.FromCircuitConfig(cfg.LLM.FailureThreshold, cfg.LLM.ResetTimeoutSecs)),
		Costs:             cost.NewCalculator(cfg.Pricing),
	}), nil
}
