// Package cost attributes estimated spend to model invocations.
package cost

import (
	"strings"

	"github.com/osintube/threatscan/internal/config"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model ids to their pricing.
type Rates map[string]ModelRate

// DefaultRates returns list pricing for the models the analyzer ships with.
func DefaultRates() Rates {
	return Rates{
		"us.meta.llama4-scout-17b-instruct-v1:0":    {Input: 0.17, Output: 0.66},
		"us.meta.llama4-maverick-17b-instruct-v1:0": {Input: 0.24, Output: 0.97},
		"meta.llama3-70b-instruct-v1:0":             {Input: 2.65, Output: 3.50},
		"claude-haiku-4-5-20251001":                 {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929":                {Input: 3.00, Output: 15.00},
		"gemini-2.5-flash":                          {Input: 0.30, Output: 2.50},
		"gpt-4o-mini":                               {Input: 0.15, Output: 0.60},
	}
}

// Calculator computes costs for model usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator from the defaults overlaid with any
// configured model prices.
func NewCalculator(pricing config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for model, p := range pricing.Models {
		rates[model] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return &Calculator{rates: rates}
}

// Tokens returns the cost of one invocation. Unknown models cost 0.
// Cross-region inference profile prefixes ("us.", "eu.", "apac.") fall back
// to the base model id.
func (c *Calculator) Tokens(modelID string, input, output int) float64 {
	rate, ok := c.lookup(modelID)
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Known reports whether modelID has a price.
func (c *Calculator) Known(modelID string) bool {
	_, ok := c.lookup(modelID)
	return ok
}

func (c *Calculator) lookup(modelID string) (ModelRate, bool) {
	if r, ok := c.rates[modelID]; ok {
		return r, true
	}
	for _, prefix := range []string{"us.", "eu.", "apac."} {
		if base, found := strings.CutPrefix(modelID, prefix); found {
			r, ok := c.rates[base]
			return r, ok
		}
	}
	return ModelRate{}, false
}
