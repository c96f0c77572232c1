package image

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/lunagen/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler performs one provider call.
type Handler func(ctx context.Context, opts *CallOptions) (*CallResult, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain creates a new middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use adds middleware to the chain.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps a handler with all middleware. The first middleware is outermost.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len returns the number of middleware.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// LoggingMiddleware logs every provider call at debug level and failures at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (*CallResult, error) {
			info, _ := CallInfoFrom(ctx)
			fields := []zap.Field{
				zap.String("batch_id", info.BatchID),
				zap.String("provider", info.Provider),
				zap.String("model", info.ModelID),
				zap.String("kind", string(info.Kind)),
				zap.Int("call", info.Index),
				zap.Int("n", opts.N),
			}
			start := time.Now()

			res, err := next(ctx, opts)

			fields = append(fields, zap.Duration("duration", time.Since(start)))
			if err != nil {
				logger.Warn("provider call failed", append(fields, zap.Error(err))...)
				return res, err
			}
			if res != nil {
				fields = append(fields, zap.Int("images", len(res.Images)), zap.Int("warnings", len(res.Warnings)))
			}
			logger.Debug("provider call completed", fields...)
			return res, nil
		}
	}
}

// TimeoutMiddleware bounds every provider call.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (*CallResult, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, opts)
		}
	}
}

// RateLimitMiddleware waits on limiter before each provider call, so a batch of
// many calls does not burst past the provider's request quota.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (*CallResult, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, opts)
		}
	}
}

// RetryMiddleware retries a single provider call with r. Only errors r considers
// retryable are retried; the batch as a whole is never retried.
func RetryMiddleware(r retry.Retryer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (*CallResult, error) {
			var res *CallResult
			err := r.Do(ctx, func() error {
				var callErr error
				res, callErr = next(ctx, opts)
				return callErr
			})
			if err != nil {
				return nil, err
			}
			return res, nil
		}
	}
}

// RecoveryMiddleware turns a provider panic into an error.
func RecoveryMiddleware(onPanic func(any)) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (res *CallResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(r)
					}
					res, err = nil, &PanicError{Value: r}
				}
			}()
			return next(ctx, opts)
		}
	}
}

// PanicError represents a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// MetricsRecorder is implemented by internal/metrics.Collector.
type MetricsRecorder interface {
	RecordCall(provider, model, kind, status string, duration time.Duration, images int)
	RecordWarning(provider, model, warningType string)
	RecordBatch(provider, model, kind, status string, calls, requested, returned int)
}

// MetricsMiddleware records call counts, durations, images and warnings.
func MetricsMiddleware(recorder MetricsRecorder) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (*CallResult, error) {
			info, _ := CallInfoFrom(ctx)
			start := time.Now()

			res, err := next(ctx, opts)

			status, images := "success", 0
			if err != nil {
				status = "error"
			} else if res != nil {
				images = len(res.Images)
				for _, w := range res.Warnings {
					recorder.RecordWarning(info.Provider, info.ModelID, string(w.Type))
				}
			}
			recorder.RecordCall(info.Provider, info.ModelID, string(info.Kind), status, time.Since(start), images)
			return res, err
		}
	}
}

// TracingMiddleware opens one span per provider call.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, opts *CallOptions) (*CallResult, error) {
			info, _ := CallInfoFrom(ctx)
			ctx, span := tracer.Start(ctx, "image.provider_call",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("image.provider", info.Provider),
					attribute.String("image.model", info.ModelID),
					attribute.String("image.kind", string(info.Kind)),
					attribute.Int("image.call_index", info.Index),
					attribute.Int("image.requested", opts.N),
				),
			)
			defer span.End()

			res, err := next(ctx, opts)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return res, err
			}
			if res != nil {
				span.SetAttributes(
					attribute.Int("image.returned", len(res.Images)),
					attribute.Int("image.warnings", len(res.Warnings)),
				)
			}
			return res, nil
		}
	}
}
