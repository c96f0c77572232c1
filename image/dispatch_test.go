package image

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/lunagen/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeModel 按 CallInfo.Index 决定每次调用的返回
type fakeModel struct {
	provider   string
	modelID    string
	maxPerCall int

	respond func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error)

	mu    sync.Mutex
	calls []*CallOptions
	kinds []Kind
}

func (f *fakeModel) Provider() string {
	if f.provider == "" {
		return "fake"
	}
	return f.provider
}

func (f *fakeModel) ModelID() string {
	if f.modelID == "" {
		return "fake-model"
	}
	return f.modelID
}

func (f *fakeModel) MaxImagesPerCall() int { return f.maxPerCall }

func (f *fakeModel) DoText2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	return f.do(ctx, KindText2Image, opts)
}

func (f *fakeModel) DoImage2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	return f.do(ctx, KindImage2Image, opts)
}

func (f *fakeModel) do(ctx context.Context, kind Kind, opts *CallOptions) (*CallResult, error) {
	info, _ := CallInfoFrom(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.kinds = append(f.kinds, kind)
	f.mu.Unlock()
	if f.respond == nil {
		return urlImages(info, opts.N), nil
	}
	return f.respond(ctx, opts, info)
}

func (f *fakeModel) requestedCounts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make([]int, 0, len(f.calls))
	for _, c := range f.calls {
		counts = append(counts, c.N)
	}
	return counts
}

func urlImages(info CallInfo, n int) *CallResult {
	res := &CallResult{Response: ResponseMetadata{ModelID: "fake-model", Timestamp: time.Unix(int64(info.Index), 0)}}
	for j := 0; j < n; j++ {
		res.Images = append(res.Images, RawImage{Text: fmt.Sprintf("https://img.test/%d/%d", info.Index, j)})
	}
	return res
}

func imageURLs(r *Result) []string {
	out := make([]string, 0, len(r.Images))
	for _, img := range r.Images {
		out = append(out, img.URL())
	}
	return out
}

func TestDispatcher_SplitsIntoBatches(t *testing.T) {
	model := &fakeModel{maxPerCall: 3}

	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{Prompt: "cat", N: 7})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{3, 3, 1}, model.requestedCounts())
	assert.Len(t, res.Images, 7)
	assert.Len(t, res.Responses, 3)
}

func TestDispatcher_EvenSplitKeepsFullLastBatch(t *testing.T) {
	model := &fakeModel{maxPerCall: 3}

	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 6})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{3, 3}, model.requestedCounts())
	assert.Len(t, res.Images, 6)
}

func TestDispatcher_DefaultsToOneImage(t *testing.T) {
	model := &fakeModel{}

	res, err := GenerateText2Image(context.Background(), model, Request{Prompt: "cat"})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, model.requestedCounts())
	require.Len(t, res.Images, 1)
	assert.Equal(t, "https://img.test/0/0", res.Image().URL())
}

func TestDispatcher_PreservesCallOrder(t *testing.T) {
	// 后面的调用先完成，结果仍按调用序号排列
	model := &fakeModel{
		maxPerCall: 1,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			time.Sleep(time.Duration(info.Calls-info.Index) * 15 * time.Millisecond)
			res := urlImages(info, opts.N)
			res.Warnings = []Warning{{Type: WarningOther, Message: fmt.Sprintf("call %d", info.Index)}}
			return res, nil
		},
	}

	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 4})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://img.test/0/0",
		"https://img.test/1/0",
		"https://img.test/2/0",
		"https://img.test/3/0",
	}, imageURLs(res))

	var messages []string
	for _, w := range res.Warnings {
		messages = append(messages, w.Message)
	}
	assert.Equal(t, []string{"call 0", "call 1", "call 2", "call 3"}, messages)

	require.Len(t, res.Responses, 4)
	for i, r := range res.Responses {
		assert.Equal(t, time.Unix(int64(i), 0), r.Timestamp)
	}
}

func TestDispatcher_FailureDiscardsPartialResults(t *testing.T) {
	boom := types.NewError(types.ErrUpstreamError, "boom")
	model := &fakeModel{
		maxPerCall: 2,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			if info.Index == 1 {
				return nil, boom
			}
			return urlImages(info, opts.N), nil
		},
	}

	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 5})
	assert.Nil(t, res)
	assert.Same(t, boom, err)
}

func TestDispatcher_FirstFailureReturnsWithoutWaiting(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	model := &fakeModel{
		maxPerCall: 1,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			if info.Index == 0 {
				return nil, errors.New("rejected")
			}
			<-release
			return urlImages(info, opts.N), nil
		},
	}

	done := make(chan error, 1)
	go func() {
		_, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 3})
		done <- err
	}()

	select {
	case err := <-done:
		assert.EqualError(t, err, "rejected")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher waited for in-flight calls after a failure")
	}
}

func TestDispatcher_BoundedFailureStopsLaunching(t *testing.T) {
	for _, limit := range []int{1, 2} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			release := make(chan struct{})
			t.Cleanup(func() { close(release) })

			var started atomic.Int32
			model := &fakeModel{
				maxPerCall: 1,
				respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
					// 第一个真正开始的调用失败，其余调用一直阻塞
					if started.Add(1) == 1 {
						return nil, errors.New("rejected")
					}
					<-release
					return urlImages(info, opts.N), nil
				},
			}

			done := make(chan error, 1)
			go func() {
				_, err := NewDispatcher(WithMaxParallelCalls(limit)).GenerateText2Image(context.Background(), model, Request{N: 5})
				done <- err
			}()

			select {
			case err := <-done:
				assert.EqualError(t, err, "rejected")
			case <-time.After(2 * time.Second):
				t.Fatal("dispatcher waited for queued calls after a failure")
			}

			// 排队中的调用不应在失败后启动
			time.Sleep(50 * time.Millisecond)
			assert.LessOrEqual(t, started.Load(), int32(limit))
		})
	}
}

func TestDispatcher_BoundedCallsObserveCancellation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var started atomic.Int32
	running := make(chan struct{})
	model := &fakeModel{
		maxPerCall: 1,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			if started.Add(1) == 1 {
				close(running)
			}
			<-release
			return urlImages(info, opts.N), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewDispatcher(WithMaxParallelCalls(1)).GenerateText2Image(ctx, model, Request{N: 3})
		done <- err
	}()

	<-running
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("queued calls ignored cancellation")
	}
	assert.Equal(t, int32(1), started.Load())
}

func TestDispatcher_PassesParametersToEveryCall(t *testing.T) {
	seed := int64(42)
	opts := ProviderOptions{"fake": map[string]any{"style": "vivid"}}
	model := &fakeModel{maxPerCall: 2}

	_, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{
		Prompt:          "a lighthouse",
		NegativePrompt:  "fog",
		N:               3,
		Seed:            &seed,
		Steps:           30,
		GuidanceScale:   7.5,
		Size:            "512x512",
		AspectRatio:     "1:1",
		OutputFormat:    "png",
		ProviderOptions: opts,
		Headers:         map[string]string{"X-Trace": "abc"},
	})
	require.NoError(t, err)

	require.Len(t, model.calls, 2)
	for _, c := range model.calls {
		assert.Equal(t, "a lighthouse", c.Prompt)
		assert.Equal(t, "fog", c.NegativePrompt)
		assert.Equal(t, &seed, c.Seed)
		assert.Equal(t, 30, c.Steps)
		assert.Equal(t, 7.5, c.GuidanceScale)
		assert.Equal(t, "512x512", c.Size)
		assert.Equal(t, "1:1", c.AspectRatio)
		assert.Equal(t, "png", c.OutputFormat)
		assert.Equal(t, opts, c.ProviderOptions)
		assert.Equal(t, map[string]string{"X-Trace": "abc"}, c.Headers)
	}

	// 每次调用拿到独立的 header 副本
	model.calls[0].Headers["X-Extra"] = "1"
	assert.NotContains(t, model.calls[1].Headers, "X-Extra")
}

func TestDispatcher_RequestOverridesMaxImagesPerCall(t *testing.T) {
	model := &fakeModel{maxPerCall: 10}

	_, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 4, MaxImagesPerCall: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1}, model.requestedCounts())
}

func TestDispatcher_UnboundedModelUsesSingleCall(t *testing.T) {
	model := &fakeModel{maxPerCall: Unbounded}

	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 25})
	require.NoError(t, err)
	assert.Equal(t, []int{25}, model.requestedCounts())
	assert.Len(t, res.Images, 25)
}

func TestDispatcher_ShortfallIsNotAnError(t *testing.T) {
	model := &fakeModel{
		maxPerCall: 2,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			return urlImages(info, 1), nil
		},
	}
	rec := &fakeRecorder{}

	res, err := NewDispatcher(WithBatchMetrics(rec)).GenerateText2Image(context.Background(), model, Request{N: 4})
	require.NoError(t, err)
	assert.Len(t, res.Images, 2)

	require.Len(t, rec.batches, 1)
	assert.Equal(t, batchRecord{provider: "fake", model: "fake-model", kind: "text2image", status: "success", calls: 2, requested: 4, returned: 2}, rec.batches[0])
}

func TestDispatcher_MaxParallelCalls(t *testing.T) {
	var inFlight, peak atomic.Int32
	model := &fakeModel{
		maxPerCall: 1,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return urlImages(info, opts.N), nil
		},
	}

	res, err := NewDispatcher(WithMaxParallelCalls(2)).GenerateText2Image(context.Background(), model, Request{N: 6})
	require.NoError(t, err)
	assert.Len(t, res.Images, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_Image2Image(t *testing.T) {
	model := &fakeModel{maxPerCall: 2}
	input := &InputImage{Data: tinyPNG, MediaType: "image/png"}

	res, err := NewDispatcher().GenerateImage2Image(context.Background(), model, Request{Prompt: "sketch", N: 3, InputImage: input})
	require.NoError(t, err)
	assert.Len(t, res.Images, 3)

	for i, c := range model.calls {
		assert.Same(t, input, c.InputImage)
		assert.Equal(t, KindImage2Image, model.kinds[i])
	}
}

func TestDispatcher_DataImages(t *testing.T) {
	model := &fakeModel{
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			return &CallResult{Images: []RawImage{{Bytes: tinyPNG}}}, nil
		},
	}

	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{})
	require.NoError(t, err)

	img, err := res.RequireImage()
	require.NoError(t, err)
	assert.False(t, img.IsURL())
	assert.Equal(t, "image/png", img.MediaType())
}

func TestDispatcher_CallInfo(t *testing.T) {
	var mu sync.Mutex
	var infos []CallInfo
	model := &fakeModel{
		provider:   "acme",
		modelID:    "painter-1",
		maxPerCall: 2,
		respond: func(ctx context.Context, opts *CallOptions, info CallInfo) (*CallResult, error) {
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
			return urlImages(info, opts.N), nil
		},
	}

	_, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{N: 5})
	require.NoError(t, err)

	require.Len(t, infos, 3)
	batchID := infos[0].BatchID
	assert.NotEmpty(t, batchID)
	seen := map[int]int{}
	for _, info := range infos {
		assert.Equal(t, batchID, info.BatchID)
		assert.Equal(t, "acme", info.Provider)
		assert.Equal(t, "painter-1", info.ModelID)
		assert.Equal(t, KindText2Image, info.Kind)
		assert.Equal(t, 3, info.Calls)
		seen[info.Index] = info.Count
	}
	assert.Equal(t, map[int]int{0: 2, 1: 2, 2: 1}, seen)
}

func TestDispatcher_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("test")

	d := NewDispatcher(WithTracer(tracer), WithMiddleware(TracingMiddleware(tracer)))
	_, err := d.GenerateText2Image(context.Background(), &fakeModel{maxPerCall: 2}, Request{N: 4})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	var parent sdktrace.ReadOnlySpan
	children := 0
	for _, s := range spans {
		if s.Name() == "image.generate" {
			parent = s
		}
	}
	require.NotNil(t, parent)
	for _, s := range spans {
		if s.Name() == "image.provider_call" {
			children++
			assert.Equal(t, parent.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
	assert.Equal(t, 2, children)
}
