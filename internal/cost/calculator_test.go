package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osintube/threatscan/internal/config"
)

func TestTokens(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(config.PricingConfig{})

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{
			name:  "llama scout",
			model: "us.meta.llama4-scout-17b-instruct-v1:0",
			input: 1_000_000, output: 1_000_000,
			want: 0.17 + 0.66,
		},
		{
			name:  "haiku small call",
			model: "claude-haiku-4-5-20251001",
			input: 10_000, output: 1_000,
			want: 0.008 + 0.004,
		},
		{
			name:  "region prefix falls back to base id",
			model: "eu.meta.llama3-70b-instruct-v1:0",
			input: 1_000_000, output: 0,
			want: 2.65,
		},
		{
			name:  "unknown model",
			model: "mystery",
			input: 1_000_000, output: 1_000_000,
			want: 0,
		},
		{
			name:  "zero tokens",
			model: "gpt-4o-mini",
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Tokens(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestNewCalculator_ConfigOverrides(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(config.PricingConfig{Models: map[string]config.ModelPricing{
		"gpt-4o-mini": {Input: 1, Output: 2},
		"local-llama": {Input: 0.5, Output: 0.5},
	}})

	assert.InDelta(t, 3.0, calc.Tokens("gpt-4o-mini", 1_000_000, 1_000_000), 1e-9)
	assert.True(t, calc.Known("local-llama"))
	assert.True(t, calc.Known("claude-haiku-4-5-20251001"))
	assert.False(t, calc.Known("nope"))
}

func TestDefaultRates_Independent(t *testing.T) {
	t.Parallel()
	a := DefaultRates()
	a["gpt-4o-mini"] = ModelRate{}
	assert.NotZero(t, DefaultRates()["gpt-4o-mini"].Input)
}
