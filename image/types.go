package image

import (
	"context"
	"encoding/base64"
	"time"
)

// Unbounded is returned by Model.MaxImagesPerCall when the provider accepts any
// number of images in a single call.
const Unbounded = -1

// Kind 生成类型
type Kind string

const (
	KindText2Image  Kind = "text2image"
	KindImage2Image Kind = "image2image"
)

// Request 代表一次逻辑上的图像生成请求（N 张图）
type Request struct {
	Prompt         string
	NegativePrompt string

	// N 请求的图像数量，0 视为 1
	N int

	Seed          *int64
	Steps         int
	GuidanceScale float64

	// Size 形如 1024x1024；AspectRatio 形如 16:9
	Size        string
	AspectRatio string

	// OutputFormat: png, jpeg, webp
	OutputFormat string

	ProviderOptions ProviderOptions

	// InputImage 仅用于 image2image
	InputImage *InputImage

	Headers map[string]string

	// MaxImagesPerCall 覆盖模型声明的单次调用上限，0 表示使用模型的值
	MaxImagesPerCall int
}

// CallOptions is a Request without the logical count, plus the image count of one
// provider call.
type CallOptions struct {
	Prompt         string
	NegativePrompt string

	N int

	Seed          *int64
	Steps         int
	GuidanceScale float64
	Size          string
	AspectRatio   string
	OutputFormat  string

	ProviderOptions ProviderOptions
	InputImage      *InputImage
	Headers         map[string]string
}

// callOptions builds the options of one provider call. Headers are copied so a
// middleware may add to them without touching sibling calls.
func (r *Request) callOptions(n int) *CallOptions {
	return &CallOptions{
		Prompt:          r.Prompt,
		NegativePrompt:  r.NegativePrompt,
		N:               n,
		Seed:            r.Seed,
		Steps:           r.Steps,
		GuidanceScale:   r.GuidanceScale,
		Size:            r.Size,
		AspectRatio:     r.AspectRatio,
		OutputFormat:    r.OutputFormat,
		ProviderOptions: r.ProviderOptions,
		InputImage:      r.InputImage,
		Headers:         cloneHeaders(r.Headers),
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// InputImage is the source image of an image2image request, given either as
// bytes or as a URL.
type InputImage struct {
	Data      []byte
	URL       string
	MediaType string
}

// Base64 returns the standard base64 encoding of Data.
func (i *InputImage) Base64() string {
	if i == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(i.Data)
}

// RawImage is one image as returned by a provider: a string (URL or base64) or
// raw bytes. Bytes wins when both are set.
type RawImage struct {
	Text      string
	Bytes     []byte
	MediaType string
}

// WarningType classifies provider warnings.
type WarningType string

const (
	WarningUnsupportedSetting WarningType = "unsupported-setting"
	WarningOther              WarningType = "other"
)

// Warning is a non-fatal diagnostic emitted by a provider.
type Warning struct {
	Type    WarningType `json:"type"`
	Setting string      `json:"setting,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Setting != "" {
		return string(w.Type) + " (" + w.Setting + "): " + w.Message
	}
	return string(w.Type) + ": " + w.Message
}

// ResponseMetadata describes one provider call.
type ResponseMetadata struct {
	Timestamp time.Time         `json:"timestamp"`
	ModelID   string            `json:"model_id"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// CallResult is what a single provider call returns.
type CallResult struct {
	Images   []RawImage
	Warnings []Warning
	Response ResponseMetadata
}

// Model 图像模型的公共部分
type Model interface {
	// Provider 服务商名称，如 openai、flux
	Provider() string

	// ModelID 模型标识
	ModelID() string

	// MaxImagesPerCall 单次调用最多返回的图像数；0 表示未声明（按 1 处理），
	// Unbounded 表示没有上限
	MaxImagesPerCall() int
}

// Text2ImageModel generates images from a prompt.
type Text2ImageModel interface {
	Model
	DoText2Image(ctx context.Context, opts *CallOptions) (*CallResult, error)
}

// Image2ImageModel transforms CallOptions.InputImage according to the prompt.
type Image2ImageModel interface {
	Model
	DoImage2Image(ctx context.Context, opts *CallOptions) (*CallResult, error)
}
