package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintube/threatscan/internal/config"
	"github.com/osintube/threatscan/internal/cost"
	"github.com/osintube/threatscan/internal/resilience"
)

func TestGuard_FillsDefaultModel(t *testing.T) {
	var got Request
	inner := InvokerFunc(func(_ context.Context, req Request) (*Response, error) {
		got = req
		return &Response{Text: "ok", ModelID: req.ModelID}, nil
	})
	g := NewGuard(inner, GuardOptions{
		DefaultModel: "us.meta.llama4-scout-17b-instruct-v1:0",
		Costs:        cost.NewCalculator(config.PricingConfig{}),
	})

	resp, err := g.Invoke(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "us.meta.llama4-scout-17b-instruct-v1:0", got.ModelID)
	assert.Equal(t, "us.meta.llama4-scout-17b-instruct-v1:0", g.DefaultModel())
}

func TestGuard_NoModel(t *testing.T) {
	g := NewGuard(InvokerFunc(func(context.Context, Request) (*Response, error) {
		t.Fatal("inner must not be called")
		return nil, nil
	}), GuardOptions{})
	_, err := g.Invoke(context.Background(), Request{})
	assert.Error(t, err)
}

func TestGuard_AppliesTimeout(t *testing.T) {
	inner := InvokerFunc(func(ctx context.Context, _ Request) (*Response, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := NewGuard(inner, GuardOptions{DefaultModel: "m", Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Invoke(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_TimeoutIsRetryable(t *testing.T) {
	inner := InvokerFunc(func(ctx context.Context, _ Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := NewGuard(inner, GuardOptions{DefaultModel: "m", Timeout: 10 * time.Millisecond})

	_, err := g.Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, resilience.ClassTimeout, resilience.Classify(err))
	assert.True(t, resilience.Retryable(err))
}

func TestGuard_NeverRetries(t *testing.T) {
	calls := 0
	inner := InvokerFunc(func(context.Context, Request) (*Response, error) {
		calls++
		return nil, resilience.NewTransientError(errors.New("throttled"), 429)
	})
	g := NewGuard(inner, GuardOptions{DefaultModel: "m"})

	_, err := g.Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_CircuitOpensPerModel(t *testing.T) {
	calls := map[string]int{}
	inner := InvokerFunc(func(_ context.Context, req Request) (*Response, error) {
		calls[req.ModelID]++
		if req.ModelID == "flaky" {
			return nil, resilience.NewTransientError(errors.New("503"), 503)
		}
		return &Response{Text: "ok"}, nil
	})
	g := NewGuard(inner, GuardOptions{
		DefaultModel: "flaky",
		Breakers:     resilience.NewBreakers(resilience.FromCircuitConfig(2, 60)),
	})

	for i := 0; i < 2; i++ {
		_, err := g.Invoke(context.Background(), Request{})
		require.Error(t, err)
	}
	_, err := g.Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls["flaky"])
	assert.Equal(t, resilience.CircuitOpen, g.Breakers().States()["flaky"])

	resp, err := g.Invoke(context.Background(), Request{ModelID: "steady"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestGuard_PermanentErrorsDoNotTrip(t *testing.T) {
	inner := InvokerFunc(func(context.Context, Request) (*Response, error) {
		return nil, errors.New("ValidationException: prompt too long")
	})
	g := NewGuard(inner, GuardOptions{
		DefaultModel: "m",
		Breakers:     resilience.NewBreakers(resilience.FromCircuitConfig(1, 60)),
	})
	for i := 0; i < 3; i++ {
		_, err := g.Invoke(context.Background(), Request{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
}

func TestGuard_RateLimitHonorsContext(t *testing.T) {
	inner := InvokerFunc(func(context.Context, Request) (*Response, error) {
		return &Response{Text: "ok"}, nil
	})
	g := NewGuard(inner, GuardOptions{DefaultModel: "m", RequestsPerMinute: 1})

	_, err := g.Invoke(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Invoke(ctx, Request{})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		LLM:    config.LLMConfig{Provider: "openai", TimeoutSecs: 5},
		OpenAI: config.OpenAIConfig{Key: "sk", Model: "gpt-4o-mini"},
	}
	g, err := FromConfig(context.Background(), cfg, awsConfigForTest())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", g.DefaultModel())

	cfg.LLM.Provider = "anthropic"
	cfg.Anthropic = config.AnthropicConfig{Key: "k", Model: "claude-haiku-4-5-20251001"}
	g, err = FromConfig(context.Background(), cfg, awsConfigForTest())
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5-20251001", g.DefaultModel())

	cfg.LLM.Provider = "bedrock"
	cfg.Bedrock = config.BedrockConfig{ModelID: "us.meta.llama4-scout-17b-instruct-v1:0"}
	g, err = FromConfig(context.Background(), cfg, awsConfigForTest())
	require.NoError(t, err)
	assert.Equal(t, "us.meta.llama4-scout-17b-instruct-v1:0", g.DefaultModel())

	cfg.LLM.Provider = "nope"
	_, err = FromConfig(context.Background(), cfg, awsConfigForTest())
	assert.Error(t, err)
}
