package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig controls retry, deadline and rate limiting for a Runner.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Timeout bounds each single invocation. Zero disables the deadline.
	Timeout time.Duration

	// RateLimit is invocations per second across the runner. Zero is
	// unlimited.
	RateLimit float64

	// Burst is the limiter burst size.
	Burst int
}

// DefaultRetryConfig returns the standard settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    10 * time.Minute,
		Burst:      1,
	}
}

// ApplyDefaults fills unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := c.BaseDelay * time.Duration(1<<(attempt-1))
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}
	return d
}

// Runner invokes agents through one provider.
type Runner struct {
	provider Provider
	breakers *BreakerRegistry
	limiter  *rate.Limiter
	cfg      RetryConfig
	logger   *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBreakers shares a breaker registry between runners.
func WithBreakers(b *BreakerRegistry) RunnerOption {
	return func(r *Runner) { r.breakers = b }
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner.
func NewRunner(p Provider, cfg RetryConfig, opts ...RunnerOption) (*Runner, error) {
	if p == nil {
		return nil, ErrNoProvider
	}
	cfg.ApplyDefaults()
	r := &Runner{
		provider: p,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.breakers == nil {
		r.breakers = NewBreakerRegistry(0, 0)
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	r.logger = r.logger.Named("agent")
	return r, nil
}

// Breakers returns the runner's breaker registry.
func (r *Runner) Breakers() *BreakerRegistry { return r.breakers }

// Run invokes an agent. Transient failures are retried with exponential
// backoff; anything else, including an open breaker, fails immediately.
// Failures come back as *ExecutionError.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, attempts, err := r.run(ctx, req)
	InvocationDuration.WithLabelValues(req.Agent).Observe(time.Since(start).Seconds())
	if err != nil {
		InvocationsTotal.WithLabelValues(req.Agent, StatusError).Inc()
		return Result{}, &ExecutionError{Agent: req.Agent, Attempts: attempts, Err: err}
	}
	InvocationsTotal.WithLabelValues(req.Agent, StatusSuccess).Inc()
	return res, nil
}

func (r *Runner) run(ctx context.Context, req Request) (Result, int, error) {
	name := r.provider.Name()
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.Backoff(attempt)
			r.logger.Info("retrying agent invocation",
				zap.String("agent", req.Agent),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{}, attempt, ctx.Err()
			}
		}

		if err := r.breakers.Allow(name); err != nil {
			BreakerOpenGauge.WithLabelValues(name).Set(1)
			return Result{}, attempt, fmt.Errorf("provider %s: %w", name, err)
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Result{}, attempt, err
			}
		}

		res, err := r.invoke(ctx, req)
		if err == nil {
			r.breakers.Success(name)
			BreakerOpenGauge.WithLabelValues(name).Set(0)
			return res, attempt + 1, nil
		}
		if ctx.Err() != nil {
			return Result{}, attempt + 1, ctx.Err()
		}

		r.breakers.Failure(name)
		if r.breakers.State(name) == BreakerOpen {
			BreakerOpenGauge.WithLabelValues(name).Set(1)
		}
		lastErr = err
		if !IsTransient(err) {
			return Result{}, attempt + 1, err
		}
		var pe *ProviderError
		if errors.As(err, &pe) {
			RetriesTotal.WithLabelValues(req.Agent, string(pe.Kind)).Inc()
		}
	}
	return Result{}, r.cfg.MaxRetries + 1, lastErr
}

func (r *Runner) invoke(ctx context.Context, req Request) (Result, error) {
	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	events, err := r.provider.Stream(callCtx, req)
	if err != nil {
		return Result{}, classify(err, ctx)
	}
	res, err := Collect(callCtx, events)
	if err != nil {
		return Result{}, classify(err, ctx)
	}
	return res, nil
}
