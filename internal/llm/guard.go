package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/osintube/threatscan/internal/cost"
	"github.com/osintube/threatscan/internal/resilience"
)

// GuardOptions configures a Guard.
type GuardOptions struct {
	DefaultModel      string
	Timeout           time.Duration
	RequestsPerMinute int
	Breakers          *resilience.Breakers
	Costs             *cost.Calculator
}

// Guard wraps an Invoker with a rate limit, a per-call timeout and a
// per-model circuit breaker. It never retries.
type Guard struct {
	inner    Invoker
	opts     GuardOptions
	limiter  *rate.Limiter
	breakers *resilience.Breakers
}

// NewGuard creates a Guard around inner.
func NewGuard(inner Invoker, opts GuardOptions) *Guard {
	g := &Guard{inner: inner, opts: opts, breakers: opts.Breakers}
	if opts.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	if g.breakers == nil {
		g.breakers = resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return g
}

// DefaultModel is the model used when a request names none.
func (g *Guard) DefaultModel() string { return g.opts.DefaultModel }

// Breakers exposes the per-model breaker registry.
func (g *Guard) Breakers() *resilience.Breakers { return g.breakers }

func (g *Guard) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.ModelID == "" {
		req.ModelID = g.opts.DefaultModel
	}
	if req.ModelID == "" {
		return nil, eris.New("llm: no model id")
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "llm: rate limit wait")
		}
	}

	start := time.Now()
	resp, err := resilience.ExecuteVal(ctx, g.breakers.Get(req.ModelID), func(ctx context.Context) (*Response, error) {
		if g.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()
		}
		return g.inner.Invoke(ctx, req)
	})
	elapsed := time.Since(start)
	if err != nil {
		zap.L().Warn("llm: invocation failed",
			zap.String("model", req.ModelID),
			zap.String("class", resilience.Classify(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	fields := []zap.Field{
		zap.String("model", req.ModelID),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", elapsed),
	}
	if g.opts.Costs != nil {
		fields = append(fields, zap.Float64("estimated_cost_usd",
			g.opts.Costs.Tokens(req.ModelID, resp.Usage.InputTokens, resp.Usage.OutputTokens)))
	}
	zap.L().Info("llm: invocation complete", fields...)
	return resp, nil
}
