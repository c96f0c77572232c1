// =============================================================================
// 📦 lunagen 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/lunagen/image"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Generation: DefaultGenerationConfig(),
		Providers:  image.DefaultProvidersConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultGenerationConfig 返回默认生成配置
// 默认不限流、不重试，与直接调用 image.Dispatcher 的行为一致
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		DefaultN:          1,
		MaxParallelCalls:  0,
		CallTimeout:       0,
		RateLimitRPS:      0,
		RateLimitBurst:    1,
		MaxRetries:        0,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		OutputDir:         ".",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "lunagen",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "lunagen",
	}
}
