package image

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var stableDiffusionOptionsSchema = NewOptionsSchema("stable-diffusion", `{
	"type": "object",
	"properties": {
		"sampler_name": {"type": "string"},
		"scheduler": {"type": "string"},
		"restore_faces": {"type": "boolean"},
		"tiling": {"type": "boolean"},
		"denoising_strength": {"type": "number", "minimum": 0, "maximum": 1},
		"subseed": {"type": "integer"},
		"subseed_strength": {"type": "number", "minimum": 0, "maximum": 1},
		"enable_hr": {"type": "boolean"},
		"hr_scale": {"type": "number", "exclusiveMinimum": 0},
		"hr_upscaler": {"type": "string"},
		"resize_mode": {"type": "integer", "minimum": 0, "maximum": 3},
		"clip_skip": {"type": "integer", "minimum": 1}
	}
}`)

// StableDiffusionModel talks to an AUTOMATIC1111 WebUI (sdapi). A call asks for
// opts.N images through batch_size, so one call can return several images.
type StableDiffusionModel struct {
	cfg     StableDiffusionConfig
	modelID string
	client  *http.Client
	logger  *zap.Logger
}

// NewStableDiffusionModel 创建 sdapi 模型; modelID 为 checkpoint 名, 为空时使用 WebUI 当前模型
func NewStableDiffusionModel(cfg StableDiffusionConfig, modelID string, logger *zap.Logger) *StableDiffusionModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:7860"
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 4
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 512, 512
	}
	if modelID == "" {
		modelID = cfg.Model
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StableDiffusionModel{
		cfg:     cfg,
		modelID: modelID,
		client:  newHTTPClient(cfg.Timeout, 300*time.Second),
		logger:  logger.With(zap.String("provider", "stable-diffusion"), zap.String("model", modelID)),
	}
}

func (m *StableDiffusionModel) Provider() string { return "stable-diffusion" }

// ModelID returns the checkpoint name, or "default" when the WebUI's loaded
// checkpoint is used.
func (m *StableDiffusionModel) ModelID() string {
	if m.modelID == "" {
		return "default"
	}
	return m.modelID
}

func (m *StableDiffusionModel) MaxImagesPerCall() int { return m.cfg.MaxBatchSize }

type sdResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type sdInfo struct {
	Seed     int64   `json:"seed"`
	AllSeeds []int64 `json:"all_seeds"`
}

// DoText2Image 调用 /sdapi/v1/txt2img
func (m *StableDiffusionModel) DoText2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	body, warnings, err := m.buildBody(opts)
	if err != nil {
		return nil, err
	}
	return m.post(ctx, "/sdapi/v1/txt2img", opts, body, warnings)
}

// DoImage2Image 调用 /sdapi/v1/img2img，输入图像放入 init_images
func (m *StableDiffusionModel) DoImage2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	data, _, err := loadInputImage(ctx, m.client, m.Provider(), opts.InputImage)
	if err != nil {
		return nil, err
	}
	body, warnings, err := m.buildBody(opts)
	if err != nil {
		return nil, err
	}
	body["init_images"] = []string{(&InputImage{Data: data}).Base64()}
	if _, ok := body["denoising_strength"]; !ok {
		body["denoising_strength"] = 0.75
	}
	return m.post(ctx, "/sdapi/v1/img2img", opts, body, warnings)
}

func (m *StableDiffusionModel) buildBody(opts *CallOptions) (map[string]any, []Warning, error) {
	if err := stableDiffusionOptionsSchema.Validate(opts.ProviderOptions); err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	width, height := m.cfg.Width, m.cfg.Height
	if opts.Size != "" {
		if w, h, ok := parseSize(opts.Size); ok {
			width, height = w, h
		} else {
			warnings = append(warnings, unsupported("size", fmt.Sprintf("cannot parse size %q", opts.Size)))
		}
	}
	if opts.AspectRatio != "" {
		warnings = append(warnings, unsupported("aspectRatio", "stable diffusion needs an explicit size"))
	}
	if opts.OutputFormat != "" && opts.OutputFormat != "png" {
		warnings = append(warnings, unsupported("outputFormat", "sdapi returns png images"))
	}

	seed := int64(-1)
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	body := map[string]any{
		"prompt":          opts.Prompt,
		"negative_prompt": opts.NegativePrompt,
		"width":           width,
		"height":          height,
		"batch_size":      opts.N,
		"n_iter":          1,
		"seed":            seed,
	}
	if opts.Steps > 0 {
		body["steps"] = opts.Steps
	}
	if opts.GuidanceScale > 0 {
		body["cfg_scale"] = opts.GuidanceScale
	}
	if m.modelID != "" {
		body["override_settings"] = map[string]any{"sd_model_checkpoint": m.modelID}
	}
	mergeOptions(body, opts.ProviderOptions.Section("stable-diffusion"))
	return body, warnings, nil
}

func (m *StableDiffusionModel) post(ctx context.Context, path string, opts *CallOptions, body map[string]any, warnings []Warning) (*CallResult, error) {
	var resp sdResponse
	header, err := postJSON(ctx, m.client, m.Provider(), strings.TrimRight(m.cfg.BaseURL, "/")+path, opts.Headers, body, &resp)
	if err != nil {
		return nil, err
	}

	var info sdInfo
	if resp.Info != "" {
		if err := json.Unmarshal([]byte(resp.Info), &info); err != nil {
			m.logger.Debug("unexpected sdapi info payload", zap.Error(err))
		}
	}
	m.logger.Debug("sdapi call completed",
		zap.String("path", path),
		zap.Int("images", len(resp.Images)),
		zap.Int64s("seeds", info.AllSeeds),
	)

	images := make([]RawImage, len(resp.Images))
	for i, b64 := range resp.Images {
		images[i] = RawImage{Text: b64, MediaType: "image/png"}
	}
	return &CallResult{
		Images:   images,
		Warnings: warnings,
		Response: ResponseMetadata{
			Timestamp: time.Now(),
			ModelID:   m.ModelID(),
			Headers:   responseHeaders(header),
		},
	}, nil
}
