package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/lunagen/types"
	"go.uber.org/zap"
)

var fluxOptionsSchema = NewOptionsSchema("flux", `{
	"type": "object",
	"properties": {
		"safety_tolerance": {"type": "integer", "minimum": 0, "maximum": 6},
		"prompt_upsampling": {"type": "boolean"},
		"raw": {"type": "boolean"},
		"image_prompt_strength": {"type": "number", "minimum": 0, "maximum": 1},
		"webhook_url": {"type": "string", "format": "uri"},
		"webhook_secret": {"type": "string"}
	},
	"additionalProperties": false
}`)

// FluxModel implements image generation using Black Forest Labs Flux.
// API Docs: https://docs.bfl.ai/quick_start/generating_images
//
// Every call returns a single image; image2image needs a model that accepts
// input_image (flux-kontext-*).
type FluxModel struct {
	cfg     FluxConfig
	modelID string
	client  *http.Client
	logger  *zap.Logger
}

// NewFluxModel creates a new Flux image model.
func NewFluxModel(cfg FluxConfig, modelID string, logger *zap.Logger) *FluxModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bfl.ai"
	}
	if cfg.Model == "" {
		// Available: flux-2-pro, flux-2-max, flux-2-flex, flux-kontext-max, flux-kontext-pro,
		// flux-pro-1.1-ultra, flux-pro-1.1
		cfg.Model = "flux-2-pro"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 120
	}
	if modelID == "" {
		modelID = cfg.Model
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FluxModel{
		cfg:     cfg,
		modelID: modelID,
		client:  newHTTPClient(cfg.Timeout, 120*time.Second),
		logger:  logger.With(zap.String("provider", "flux"), zap.String("model", modelID)),
	}
}

func (m *FluxModel) Provider() string { return "flux" }

func (m *FluxModel) ModelID() string { return m.modelID }

func (m *FluxModel) MaxImagesPerCall() int { return 1 }

type fluxSubmitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url,omitempty"`
}

type fluxResultResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		Sample string `json:"sample"` // Signed URL (valid 10 min)
		Seed   int64  `json:"seed,omitempty"`
	} `json:"result"`
}

// DoText2Image creates an image using Flux.
// Endpoint: POST /v1/{model}; Auth: x-key header
func (m *FluxModel) DoText2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	return m.generate(ctx, opts, "")
}

// DoImage2Image edits opts.InputImage, sent as base64 input_image.
func (m *FluxModel) DoImage2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	data, _, err := loadInputImage(ctx, m.client, m.Provider(), opts.InputImage)
	if err != nil {
		return nil, err
	}
	return m.generate(ctx, opts, (&InputImage{Data: data}).Base64())
}

func (m *FluxModel) generate(ctx context.Context, opts *CallOptions, inputImage string) (*CallResult, error) {
	if err := fluxOptionsSchema.Validate(opts.ProviderOptions); err != nil {
		return nil, err
	}

	body, warnings := m.buildBody(opts)
	if inputImage != "" {
		body["input_image"] = inputImage
	}

	headers := map[string]string{"x-key": m.cfg.APIKey}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	var submit fluxSubmitResponse
	endpoint := fmt.Sprintf("%s/v1/%s", strings.TrimRight(m.cfg.BaseURL, "/"), m.modelID)
	if _, err := postJSON(ctx, m.client, m.Provider(), endpoint, headers, body, &submit); err != nil {
		return nil, err
	}

	pollingURL := submit.PollingURL
	if pollingURL == "" {
		// Fallback for legacy endpoints
		pollingURL = fmt.Sprintf("%s/v1/get_result?id=%s", strings.TrimRight(m.cfg.BaseURL, "/"), submit.ID)
	}
	m.logger.Debug("flux task submitted", zap.String("task_id", submit.ID))

	result, header, err := m.pollResult(ctx, pollingURL)
	if err != nil {
		return nil, err
	}

	return &CallResult{
		Images:   []RawImage{{Text: result.Result.Sample}},
		Warnings: warnings,
		Response: ResponseMetadata{
			Timestamp: time.Now(),
			ModelID:   m.modelID,
			Headers:   responseHeaders(header),
		},
	}, nil
}

func (m *FluxModel) buildBody(opts *CallOptions) (map[string]any, []Warning) {
	var warnings []Warning
	body := map[string]any{"prompt": opts.Prompt}

	// Prefer aspect_ratio over width/height for Flux 2.x
	switch {
	case opts.AspectRatio != "":
		body["aspect_ratio"] = opts.AspectRatio
	case opts.Size != "":
		if w, h, ok := parseSize(opts.Size); ok {
			body["aspect_ratio"] = aspectRatioFromSize(w, h)
		} else {
			warnings = append(warnings, unsupported("size", fmt.Sprintf("cannot parse size %q, using 1:1", opts.Size)))
			body["aspect_ratio"] = "1:1"
		}
	default:
		body["aspect_ratio"] = "1:1"
	}

	if opts.Seed != nil {
		body["seed"] = *opts.Seed
	}
	if opts.Steps > 0 {
		body["steps"] = opts.Steps
	}
	if opts.GuidanceScale > 0 {
		body["guidance"] = opts.GuidanceScale
	}
	switch opts.OutputFormat {
	case "":
		body["output_format"] = "jpeg"
	case "png", "jpeg":
		body["output_format"] = opts.OutputFormat
	default:
		warnings = append(warnings, unsupported("outputFormat", "flux supports jpeg and png only"))
		body["output_format"] = "jpeg"
	}
	if opts.NegativePrompt != "" {
		warnings = append(warnings, unsupported("negativePrompt", "flux does not accept a negative prompt"))
	}
	if opts.N > 1 {
		warnings = append(warnings, Warning{
			Type:    WarningOther,
			Setting: "n",
			Message: fmt.Sprintf("flux returns one image per request, %d were requested", opts.N),
		})
	}
	mergeOptions(body, opts.ProviderOptions.Section("flux"))
	return body, warnings
}

// pollResult polls for async generation result using the polling URL.
// Note: Signed URLs in result.sample are only valid for 10 minutes.
func (m *FluxModel) pollResult(ctx context.Context, pollingURL string) (*fluxResultResponse, http.Header, error) {
	for i := 0; i < m.cfg.MaxPolls; i++ {
		timer := time.NewTimer(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollingURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("x-key", m.cfg.APIKey)
		httpReq.Header.Set("accept", "application/json")

		var res fluxResultResponse
		header, err := doJSON(m.client, m.Provider(), httpReq, &res)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			// 可重试的错误继续轮询
			if types.IsRetryable(err) {
				continue
			}
			return nil, nil, err
		}

		switch res.Status {
		case "Ready":
			return &res, header, nil
		case "Request Moderated", "Content Moderated":
			return nil, nil, types.NewError(types.ErrContentFiltered, "flux: "+strings.ToLower(res.Status)).WithProvider(m.Provider())
		case "Error", "Failed", "Task not found":
			return nil, nil, types.NewError(types.ErrUpstreamError, "flux generation failed: "+res.Status).WithProvider(m.Provider())
		}
		// Continue polling for Pending, Processing, etc.
	}

	return nil, nil, types.NewError(types.ErrUpstreamTimeout, "flux generation timeout").WithProvider(m.Provider())
}
