package image

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/BaSui01/lunagen/image"

// Dispatcher turns one request for N images into provider calls of at most
// MaxImagesPerCall images each, runs them concurrently and merges their results
// in call order.
//
// A Dispatcher holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	logger      *zap.Logger
	chain       *Chain
	tracer      trace.Tracer
	metrics     MetricsRecorder
	maxParallel int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMiddleware appends middleware applied to every provider call.
func WithMiddleware(m ...Middleware) DispatcherOption {
	return func(d *Dispatcher) {
		for _, mw := range m {
			d.chain.Use(mw)
		}
	}
}

// WithTracer sets the tracer used for the per-request span.
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithBatchMetrics records one observation per batched request.
func WithBatchMetrics(recorder MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = recorder
	}
}

// WithMaxParallelCalls bounds how many provider calls of one request run at the
// same time. n <= 0 runs them all at once.
func WithMaxParallelCalls(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxParallel = n
	}
}

// NewDispatcher creates a Dispatcher. Without options it adds nothing around the
// provider calls: no retry, no timeout, no rate limit.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger: zap.NewNop(),
		chain:  NewChain(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "image_dispatcher"))
	return d
}

var defaultDispatcher = NewDispatcher()

// GenerateText2Image generates req.N images from a prompt with the default
// Dispatcher.
func GenerateText2Image(ctx context.Context, model Text2ImageModel, req Request) (*Result, error) {
	return defaultDispatcher.GenerateText2Image(ctx, model, req)
}

// GenerateImage2Image transforms req.InputImage into req.N images with the
// default Dispatcher.
func GenerateImage2Image(ctx context.Context, model Image2ImageModel, req Request) (*Result, error) {
	return defaultDispatcher.GenerateImage2Image(ctx, model, req)
}

// GenerateText2Image generates req.N images from a prompt.
func (d *Dispatcher) GenerateText2Image(ctx context.Context, model Text2ImageModel, req Request) (*Result, error) {
	return d.dispatch(ctx, KindText2Image, model, req, model.DoText2Image)
}

// GenerateImage2Image transforms req.InputImage into req.N images.
func (d *Dispatcher) GenerateImage2Image(ctx context.Context, model Image2ImageModel, req Request) (*Result, error) {
	return d.dispatch(ctx, KindImage2Image, model, req, model.DoImage2Image)
}

func (d *Dispatcher) dispatch(ctx context.Context, kind Kind, model Model, req Request, call Handler) (*Result, error) {
	n := req.N
	if n == 0 {
		n = 1
	}
	maxPerCall := resolveMaxImagesPerCall(req.MaxImagesPerCall, model)
	counts := PlanCalls(n, maxPerCall)

	provider, modelID := model.Provider(), model.ModelID()
	batchID := uuid.NewString()
	logger := d.logger.With(
		zap.String("batch_id", batchID),
		zap.String("provider", provider),
		zap.String("model", modelID),
		zap.String("kind", string(kind)),
	)
	logger.Debug("dispatching image generation",
		zap.Int("n", n),
		zap.Int("max_images_per_call", maxPerCall),
		zap.Ints("call_counts", counts),
	)

	ctx, span := d.tracer.Start(ctx, "image.generate",
		trace.WithAttributes(
			attribute.String("image.batch_id", batchID),
			attribute.String("image.provider", provider),
			attribute.String("image.model", modelID),
			attribute.String("image.kind", string(kind)),
			attribute.Int("image.n", n),
			attribute.Int("image.calls", len(counts)),
		),
	)
	defer span.End()

	result, err := d.run(ctx, kind, provider, modelID, batchID, req, counts, call)
	if err != nil {
		logger.Debug("image generation failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if d.metrics != nil {
			d.metrics.RecordBatch(provider, modelID, string(kind), "error", len(counts), n, 0)
		}
		return nil, err
	}

	// 不校验返回数量：provider 少给时原样交给调用方
	if len(result.Images) != n {
		logger.Debug("provider returned a different image count",
			zap.Int("requested", n),
			zap.Int("returned", len(result.Images)),
		)
	}
	span.SetAttributes(attribute.Int("image.returned", len(result.Images)))
	if d.metrics != nil {
		d.metrics.RecordBatch(provider, modelID, string(kind), "success", len(counts), n, len(result.Images))
	}
	return result, nil
}

// run fans the planned calls out and joins them. The first failure is returned as
// soon as it is observed; calls still in flight are left to the shared context.
// With MaxParallelCalls set, calls waiting for a slot are not started once a call
// has failed.
func (d *Dispatcher) run(ctx context.Context, kind Kind, provider, modelID, batchID string, req Request, counts []int, call Handler) (*Result, error) {
	handler := d.chain.Then(call)
	results := make([]*CallResult, len(counts))
	failed := make(chan error, 1)
	report := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	// launchCtx 只控制排队中的调用，不传给 provider
	launchCtx, stopLaunching := context.WithCancel(ctx)
	defer stopLaunching()

	var sem *semaphore.Weighted
	if d.maxParallel > 0 {
		sem = semaphore.NewWeighted(int64(d.maxParallel))
	}

	var g errgroup.Group
	for i, count := range counts {
		i := i
		opts := req.callOptions(count)
		callCtx := WithCallInfo(ctx, CallInfo{
			BatchID:  batchID,
			Kind:     kind,
			Provider: provider,
			ModelID:  modelID,
			Index:    i,
			Count:    count,
			Calls:    len(counts),
		})
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(launchCtx, 1); err != nil {
					return abandoned(ctx, report)
				}
				defer sem.Release(1)
				if launchCtx.Err() != nil {
					return abandoned(ctx, report)
				}
			}
			res, err := handler(callCtx, opts)
			if err != nil {
				stopLaunching()
				report(err)
				return err
			}
			results[i] = res
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-failed:
		return nil, err
	case err := <-done:
		if err != nil {
			return nil, err
		}
	}

	return merge(results), nil
}

// abandoned 处理未启动的调用：调用方取消时上报 ctx 错误，批次已失败时静默退出
func abandoned(ctx context.Context, report func(error)) error {
	if err := ctx.Err(); err != nil {
		report(err)
		return err
	}
	return nil
}

// merge 按调用序号拼接图像、警告与响应元数据
func merge(results []*CallResult) *Result {
	out := &Result{}
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, raw := range res.Images {
			out.Images = append(out.Images, newGeneratedImage(raw))
		}
		out.Warnings = append(out.Warnings, res.Warnings...)
		out.Responses = append(out.Responses, res.Response)
	}
	return out
}
