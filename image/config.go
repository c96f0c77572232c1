package image

import "time"

// OpenAIConfig配置了OpenAI图像供应商.
type OpenAIConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // dall-e-3, gpt-image-1
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
	// MaxImagesPerCall 覆盖按模型推断的上限
	MaxImagesPerCall int `json:"max_images_per_call,omitempty" yaml:"max_images_per_call,omitempty" env:"MAX_IMAGES_PER_CALL"`
}

// FluxConfig配置了黑森林实验室Flux供应商.
type FluxConfig struct {
	APIKey       string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL      string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model        string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // flux-2-pro, flux-kontext-pro
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty" env:"POLL_INTERVAL"`
	MaxPolls     int           `json:"max_polls,omitempty" yaml:"max_polls,omitempty" env:"MAX_POLLS"`
}

// StableDiffusionConfig 配置 AUTOMATIC1111 WebUI (sdapi) 供应商.
type StableDiffusionConfig struct {
	// Enabled 本地 WebUI 不需要 API Key，需显式开启
	Enabled bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // checkpoint；空表示 WebUI 当前加载的模型
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
	// MaxBatchSize 单次调用的 batch_size 上限
	MaxBatchSize int `json:"max_batch_size,omitempty" yaml:"max_batch_size,omitempty" env:"MAX_BATCH_SIZE"`
	// 默认分辨率
	Width  int `json:"width,omitempty" yaml:"width,omitempty" env:"WIDTH"`
	Height int `json:"height,omitempty" yaml:"height,omitempty" env:"HEIGHT"`
}

// GeminiConfig配置了谷歌双子座图像生成提供者.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // gemini-2.5-flash-image
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// ProvidersConfig 汇总所有图像供应商配置
type ProvidersConfig struct {
	// Default 默认模型，形如 openai:dall-e-3
	Default         string                `json:"default" yaml:"default" env:"DEFAULT"`
	OpenAI          OpenAIConfig          `json:"openai" yaml:"openai" env:"OPENAI"`
	Flux            FluxConfig            `json:"flux" yaml:"flux" env:"FLUX"`
	StableDiffusion StableDiffusionConfig `json:"stable_diffusion" yaml:"stable_diffusion" env:"STABLE_DIFFUSION"`
	Gemini          GeminiConfig          `json:"gemini" yaml:"gemini" env:"GEMINI"`
}

// DefaultOpenAIConfig 返回默认 OpenAI 图像配置
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: "https://api.openai.com",
		Model:   "dall-e-3",
		Timeout: 120 * time.Second,
	}
}

// DefaultFluxConfig 返回默认Flux配置
func DefaultFluxConfig() FluxConfig {
	return FluxConfig{
		// Regional: api.eu.bfl.ai (EU), api.us.bfl.ai (US)
		BaseURL:      "https://api.bfl.ai",
		Model:        "flux-2-pro",
		Timeout:      120 * time.Second,
		PollInterval: 2 * time.Second,
		MaxPolls:     120,
	}
}

// DefaultStableDiffusionConfig 返回默认 sdapi 配置
func DefaultStableDiffusionConfig() StableDiffusionConfig {
	return StableDiffusionConfig{
		BaseURL:      "http://127.0.0.1:7860",
		Timeout:      300 * time.Second,
		MaxBatchSize: 4,
		Width:        512,
		Height:       512,
	}
}

// DefaultGeminiConfig 返回默认双子星图像配置.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		BaseURL: "https://generativelanguage.googleapis.com",
		Model:   "gemini-2.5-flash-image",
		Timeout: 120 * time.Second,
	}
}

// DefaultProvidersConfig 返回所有供应商的默认配置
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Default:         "openai:dall-e-3",
		OpenAI:          DefaultOpenAIConfig(),
		Flux:            DefaultFluxConfig(),
		StableDiffusion: DefaultStableDiffusionConfig(),
		Gemini:          DefaultGeminiConfig(),
	}
}
