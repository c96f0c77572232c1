package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/lunagen/config"
	"github.com/BaSui01/lunagen/image"
	"github.com/BaSui01/lunagen/internal/metrics"
	"github.com/BaSui01/lunagen/internal/retry"
	"github.com/BaSui01/lunagen/internal/telemetry"
)

const instrumentationName = "github.com/BaSui01/lunagen/cmd/lunagen"

// app 持有一次命令执行所需的全部运行时组件
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	telemetry  *telemetry.Providers
	promReg    *prometheus.Registry
	collector  *metrics.Collector
	models     *image.Registry
	dispatcher *image.Dispatcher

	imagesSaved metric.Int64Counter
}

// loadDotEnv 加载 .env；未显式指定且默认文件不存在时忽略
func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func newApp(configPath, envFile string) (*app, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	// 加载配置
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	logger.Debug("starting lunagen",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		otelProviders = &telemetry.Providers{}
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: otelProviders,
		models:    image.NewRegistryFromConfig(cfg.Providers, logger),
	}

	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.promReg.MustRegister(collectors.NewGoCollector())
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.promReg, logger)
	}

	a.imagesSaved, err = otelProviders.Meter(instrumentationName).Int64Counter(
		"lunagen.images.saved",
		metric.WithDescription("Images written to the output directory"),
	)
	if err != nil {
		logger.Warn("failed to create otel counter", zap.Error(err))
	}

	a.dispatcher = a.newDispatcher()
	return a, nil
}

// newDispatcher 按配置组装中间件；Retry 在 RateLimit 外层，每次重试都重新排队限流
func (a *app) newDispatcher() *image.Dispatcher {
	g := a.cfg.Generation
	tracer := a.telemetry.Tracer(instrumentationName)

	middlewares := []image.Middleware{
		image.RecoveryMiddleware(func(v any) {
			a.logger.Error("provider panic recovered", zap.Any("panic", v))
		}),
		image.TracingMiddleware(tracer),
		image.LoggingMiddleware(a.logger),
	}
	if a.collector != nil {
		middlewares = append(middlewares, image.MetricsMiddleware(a.collector))
	}
	if g.MaxRetries > 0 {
		middlewares = append(middlewares, image.RetryMiddleware(retry.NewBackoffRetryer(&retry.Policy{
			MaxRetries:   g.MaxRetries,
			InitialDelay: g.RetryInitialDelay,
			MaxDelay:     g.RetryMaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		}, a.logger)))
	}
	if g.RateLimitRPS > 0 {
		middlewares = append(middlewares, image.RateLimitMiddleware(rate.NewLimiter(rate.Limit(g.RateLimitRPS), g.RateLimitBurst)))
	}
	if g.CallTimeout > 0 {
		middlewares = append(middlewares, image.TimeoutMiddleware(g.CallTimeout))
	}

	opts := []image.DispatcherOption{
		image.WithLogger(a.logger),
		image.WithTracer(tracer),
		image.WithMiddleware(middlewares...),
		image.WithMaxParallelCalls(g.MaxParallelCalls),
	}
	if a.collector != nil {
		opts = append(opts, image.WithBatchMetrics(a.collector))
	}
	return image.NewDispatcher(opts...)
}

func (a *app) recordSaved(ctx context.Context, n int) {
	if a.imagesSaved != nil && n > 0 {
		a.imagesSaved.Add(ctx, int64(n))
	}
}

// close 写出指标并关闭遥测
func (a *app) close() {
	if a.promReg != nil && a.cfg.Metrics.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.TextfilePath, a.promReg); err != nil {
			a.logger.Warn("failed to write metrics textfile", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
