// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// Provider 调用指标
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	imagesTotal   *prometheus.CounterVec
	warningsTotal *prometheus.CounterVec

	// 批量请求指标
	batchesTotal   *prometheus.CounterVec
	batchCallCount *prometheus.HistogramVec
	shortfallTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到 prometheus 默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.callsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_provider_calls_total",
			Help:      "Total number of image provider calls",
		},
		[]string{"provider", "model", "kind", "status"},
	)

	c.callDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_provider_call_duration_seconds",
			Help:      "Image provider call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model", "kind"},
	)

	c.imagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_generated_total",
			Help:      "Total number of images returned by providers",
		},
		[]string{"provider", "model", "kind"},
	)

	c.warningsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_warnings_total",
			Help:      "Total number of provider warnings",
		},
		[]string{"provider", "model", "type"},
	)

	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_batches_total",
			Help:      "Total number of batched generation requests",
		},
		[]string{"provider", "model", "kind", "status"},
	)

	c.batchCallCount = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_batch_calls",
			Help:      "Number of provider calls per batched request",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "model"},
	)

	c.shortfallTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_shortfall_total",
			Help:      "Images requested but not returned by providers",
		},
		[]string{"provider", "model"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🖼️ Provider 调用指标记录
// =============================================================================

// RecordCall 记录单次 provider 调用
func (c *Collector) RecordCall(provider, model, kind, status string, duration time.Duration, images int) {
	c.callsTotal.WithLabelValues(provider, model, kind, status).Inc()
	c.callDuration.WithLabelValues(provider, model, kind).Observe(duration.Seconds())
	if images > 0 {
		c.imagesTotal.WithLabelValues(provider, model, kind).Add(float64(images))
	}
}

// RecordWarning 记录 provider 警告
func (c *Collector) RecordWarning(provider, model, warningType string) {
	c.warningsTotal.WithLabelValues(provider, model, warningType).Inc()
}

// =============================================================================
// 📦 批量请求指标记录
// =============================================================================

// RecordBatch 记录一次批量请求；returned < requested 时累计缺口
func (c *Collector) RecordBatch(provider, model, kind, status string, calls, requested, returned int) {
	c.batchesTotal.WithLabelValues(provider, model, kind, status).Inc()
	c.batchCallCount.WithLabelValues(provider, model).Observe(float64(calls))
	if status == StatusSuccess && returned < requested {
		c.shortfallTotal.WithLabelValues(provider, model).Add(float64(requested - returned))
	}
}

// Status labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
