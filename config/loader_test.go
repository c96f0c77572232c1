// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearProviderKeys 屏蔽宿主机上的通用 API Key 变量
func clearProviderKeys(t *testing.T) {
	t.Helper()
	for _, p := range providerKeyEnv {
		t.Setenv(p.name, "")
	}
}

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证生成默认值
	assert.Equal(t, 1, cfg.Generation.DefaultN)
	assert.Equal(t, 0, cfg.Generation.MaxParallelCalls)
	assert.Equal(t, 0, cfg.Generation.MaxRetries)
	assert.Zero(t, cfg.Generation.RateLimitRPS)

	// 验证供应商默认值
	assert.Equal(t, "openai:dall-e-3", cfg.Providers.Default)
	assert.Equal(t, "https://api.openai.com", cfg.Providers.OpenAI.BaseURL)
	assert.Equal(t, 4, cfg.Providers.StableDiffusion.MaxBatchSize)
	assert.False(t, cfg.Providers.StableDiffusion.Enabled)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.Equal(t, "lunagen", cfg.Telemetry.ServiceName)
	assert.Equal(t, "lunagen", cfg.Metrics.Namespace)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	clearProviderKeys(t)

	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Generation.DefaultN)
	assert.Empty(t, cfg.Providers.OpenAI.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "lunagen.yaml")

	yamlContent := `
generation:
  default_n: 4
  max_parallel_calls: 2
  call_timeout: 45s
  rate_limit_rps: 0.5
  rate_limit_burst: 2
  max_retries: 3

providers:
  default: "stable-diffusion:sdxl"
  openai:
    api_key: "sk-yaml"
    max_images_per_call: 2
  stable_diffusion:
    enabled: true
    base_url: "http://gpu-box:7860"
    max_batch_size: 8

log:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  textfile_path: "/var/lib/node_exporter/lunagen.prom"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 4, cfg.Generation.DefaultN)
	assert.Equal(t, 2, cfg.Generation.MaxParallelCalls)
	assert.Equal(t, 45*time.Second, cfg.Generation.CallTimeout)
	assert.Equal(t, 0.5, cfg.Generation.RateLimitRPS)
	assert.Equal(t, 3, cfg.Generation.MaxRetries)

	assert.Equal(t, "stable-diffusion:sdxl", cfg.Providers.Default)
	assert.Equal(t, "sk-yaml", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, 2, cfg.Providers.OpenAI.MaxImagesPerCall)
	assert.True(t, cfg.Providers.StableDiffusion.Enabled)
	assert.Equal(t, "http://gpu-box:7860", cfg.Providers.StableDiffusion.BaseURL)
	assert.Equal(t, 8, cfg.Providers.StableDiffusion.MaxBatchSize)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 512, cfg.Providers.StableDiffusion.Width)
	assert.Equal(t, "https://api.bfl.ai", cfg.Providers.Flux.BaseURL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/var/lib/node_exporter/lunagen.prom", cfg.Metrics.TextfilePath)

	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"LUNAGEN_GENERATION_DEFAULT_N":                 "3",
		"LUNAGEN_GENERATION_CALL_TIMEOUT":              "90s",
		"LUNAGEN_GENERATION_RATE_LIMIT_RPS":            "1.5",
		"LUNAGEN_PROVIDERS_DEFAULT":                    "flux",
		"LUNAGEN_PROVIDERS_FLUX_API_KEY":               "bfl-env",
		"LUNAGEN_PROVIDERS_FLUX_POLL_INTERVAL":         "500ms",
		"LUNAGEN_PROVIDERS_STABLE_DIFFUSION_ENABLED":   "true",
		"LUNAGEN_PROVIDERS_OPENAI_MAX_IMAGES_PER_CALL": "5",
		"LUNAGEN_LOG_LEVEL":                            "warn",
		"LUNAGEN_LOG_OUTPUT_PATHS":                     "stderr, /tmp/lunagen.log",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	// 加载配置
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	// 验证环境变量覆盖了默认值
	assert.Equal(t, 3, cfg.Generation.DefaultN)
	assert.Equal(t, 90*time.Second, cfg.Generation.CallTimeout)
	assert.Equal(t, 1.5, cfg.Generation.RateLimitRPS)
	assert.Equal(t, "flux", cfg.Providers.Default)
	assert.Equal(t, "bfl-env", cfg.Providers.Flux.APIKey)
	assert.Equal(t, 500*time.Millisecond, cfg.Providers.Flux.PollInterval)
	assert.True(t, cfg.Providers.StableDiffusion.Enabled)
	assert.Equal(t, 5, cfg.Providers.OpenAI.MaxImagesPerCall)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stderr", "/tmp/lunagen.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "lunagen.yaml")

	yamlContent := `
generation:
  default_n: 2
providers:
  openai:
    api_key: "sk-yaml"
    model: "dall-e-2"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 设置环境变量（应该覆盖 YAML）
	t.Setenv("LUNAGEN_GENERATION_DEFAULT_N", "6")
	t.Setenv("LUNAGEN_PROVIDERS_OPENAI_API_KEY", "sk-env")

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, 6, cfg.Generation.DefaultN)
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "dall-e-2", cfg.Providers.OpenAI.Model)
}

func TestLoader_ProviderKeyFallback(t *testing.T) {
	clearProviderKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-generic")
	t.Setenv("GOOGLE_API_KEY", "g-generic")
	t.Setenv("LUNAGEN_PROVIDERS_FLUX_API_KEY", "bfl-prefixed")
	t.Setenv("BFL_API_KEY", "bfl-generic")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-generic", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "g-generic", cfg.Providers.Gemini.APIKey)
	// 带前缀的变量优先
	assert.Equal(t, "bfl-prefixed", cfg.Providers.Flux.APIKey)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_GENERATION_DEFAULT_N", "9")
	t.Setenv("MYAPP_LOG_FORMAT", "json")

	// 使用自定义前缀加载
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Generation.DefaultN)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("LUNAGEN_GENERATION_DEFAULT_N", "0")

	// 加载应该失败
	_, err := NewLoader().
		WithValidator((*Config).Validate).
		Load()
	assert.Error(t, err)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("LUNAGEN_GENERATION_CALL_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LUNAGEN_GENERATION_CALL_TIMEOUT")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/lunagen.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// 应该返回默认值
	assert.Equal(t, 1, cfg.Generation.DefaultN)
}

func TestLoader_InvalidYAML(t *testing.T) {
	// 创建无效的 YAML 文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
generation:
  default_n: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	// 加载应该失败
	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero default n",
			modify:  func(c *Config) { c.Generation.DefaultN = 0 },
			wantErr: true,
		},
		{
			name:    "negative parallelism",
			modify:  func(c *Config) { c.Generation.MaxParallelCalls = -1 },
			wantErr: true,
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.Generation.RateLimitRPS = 2
				c.Generation.RateLimitBurst = 0
			},
			wantErr: true,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Generation.MaxRetries = -2 },
			wantErr: true,
		},
		{
			name:    "unknown default provider",
			modify:  func(c *Config) { c.Providers.Default = "midjourney:v6" },
			wantErr: true,
		},
		{
			name:    "unbounded stable diffusion batch",
			modify:  func(c *Config) { c.Providers.StableDiffusion.MaxBatchSize = -1 },
			wantErr: false,
		},
		{
			name:    "stable diffusion batch below unbounded",
			modify:  func(c *Config) { c.Providers.StableDiffusion.MaxBatchSize = -2 },
			wantErr: true,
		},
		{
			name:    "openai per-call cap below unbounded",
			modify:  func(c *Config) { c.Providers.OpenAI.MaxImagesPerCall = -3 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "sample rate too high",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	// 创建有效配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "lunagen.yaml")

	yamlContent := `
generation:
  default_n: 2
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 不应该 panic
	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 2, cfg.Generation.DefaultN)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	// 创建无效配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	// 应该 panic
	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("LUNAGEN_GENERATION_OUTPUT_DIR", "/tmp/images")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/images", cfg.Generation.OutputDir)
}
