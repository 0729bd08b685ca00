package storage

import (
	"context"
	"errors"
	"time"

	"github.com/zoobzio/pipz"
)

// Write is one backend mutation flowing through the write pipeline. Key is
// the full backend key, namespace included.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Stage wraps the write pipeline. Stages apply in order, so the last one
// given is the outermost.
type Stage func(pipz.Chainable[*Write]) pipz.Chainable[*Write]

// backendStage is the terminal of every write pipeline.
func backendStage(b Backend) pipz.Chainable[*Write] {
	return pipz.Effect("backend", func(ctx context.Context, w *Write) error {
		if w.Delete {
			return b.Delete(ctx, w.Key)
		}
		return b.Set(ctx, w.Key, w.Value)
	})
}

func buildPipeline(terminal pipz.Chainable[*Write], stages []Stage) pipz.Chainable[*Write] {
	pipeline := terminal
	for _, stage := range stages {
		pipeline = stage(pipeline)
	}
	return pipeline
}

// cause strips the pipeline error wrapper so callers see the backend error.
func cause(err error) error {
	var perr *pipz.Error[*Write]
	if errors.As(err, &perr) && perr.Err != nil {
		return perr.Err
	}
	return err
}

func withStage(stage Stage) Option {
	return func(c *config) {
		c.stages = append(c.stages, stage)
	}
}

// -----------------------------------------------------------------------------
// Write Pipeline Options
// -----------------------------------------------------------------------------

// WithRetry retries failed writes up to maxAttempts times without delay.
func WithRetry(maxAttempts int) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		return pipz.NewRetry("retry", p, maxAttempts)
	})
}

// WithBackoff retries failed writes with exponentially increasing delays
// starting at baseDelay.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		return pipz.NewBackoff("backoff", p, maxAttempts, baseDelay)
	})
}

// WithTimeout fails writes that take longer than d.
func WithTimeout(d time.Duration) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		return pipz.NewTimeout("timeout", p, d)
	})
}

// WithCircuitBreaker stops calling the backend after failures consecutive
// failed writes and tries again after recovery.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		return pipz.NewCircuitBreaker("circuit-breaker", p, failures, recovery)
	})
}

// WithRateLimit limits writes to rate per second with the given burst.
// Writes over the limit wait for a token.
func WithRateLimit(rate float64, burst int) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		limiter := pipz.NewRateLimiter[*Write]("rate-limit", rate, burst)
		return pipz.NewSequence("rate-limited", limiter, p)
	})
}

// WithFallback sends writes the pipeline could not complete to the
// fallback backends, in order. Reads never fall back.
func WithFallback(fallbacks ...Backend) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		all := make([]pipz.Chainable[*Write], 0, len(fallbacks)+1)
		all = append(all, p)
		for _, b := range fallbacks {
			all = append(all, backendStage(b))
		}
		return pipz.NewFallback("fallback", all...)
	})
}

// WithErrorHandler passes every failed write to handler. The write still
// fails.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Write]]) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		return pipz.NewHandle("error-handler", p, handler)
	})
}

// WithMiddleware runs processors before the rest of the pipeline.
//
//	store := storage.New(backend,
//	    storage.WithMiddleware(
//	        storage.UseEffect("audit", func(_ context.Context, w *storage.Write) error {
//	            log.Printf("write %s (%d bytes)", w.Key, len(w.Value))
//	            return nil
//	        }),
//	    ),
//	)
func WithMiddleware(processors ...pipz.Chainable[*Write]) Option {
	return withStage(func(p pipz.Chainable[*Write]) pipz.Chainable[*Write] {
		all := make([]pipz.Chainable[*Write], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence("middleware", all...)
	})
}

// -----------------------------------------------------------------------------
// Middleware Helpers
// -----------------------------------------------------------------------------

// UseTransform creates a processor that rewrites a write and cannot fail.
func UseTransform(name string, fn func(context.Context, *Write) *Write) pipz.Chainable[*Write] {
	return pipz.Transform(pipz.Name(name), fn)
}

// UseApply creates a processor that rewrites a write and may reject it.
func UseApply(name string, fn func(context.Context, *Write) (*Write, error)) pipz.Chainable[*Write] {
	return pipz.Apply(pipz.Name(name), fn)
}

// UseEffect creates a processor that observes a write and may reject it.
func UseEffect(name string, fn func(context.Context, *Write) error) pipz.Chainable[*Write] {
	return pipz.Effect(pipz.Name(name), fn)
}
