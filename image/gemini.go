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

// GeminiModel implements image generation using Google Gemini's native multimodal capabilities.
type GeminiModel struct {
	cfg     GeminiConfig
	modelID string
	client  *http.Client
	logger  *zap.Logger
}

// NewGeminiModel creates a new Gemini image model.
func NewGeminiModel(cfg GeminiConfig, modelID string, logger *zap.Logger) *GeminiModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-image"
	}
	if modelID == "" {
		modelID = cfg.Model
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GeminiModel{
		cfg:     cfg,
		modelID: modelID,
		client:  newHTTPClient(cfg.Timeout, 120*time.Second),
		logger:  logger.With(zap.String("provider", "gemini"), zap.String("model", modelID)),
	}
}

func (m *GeminiModel) Provider() string { return "gemini" }

func (m *GeminiModel) ModelID() string { return m.modelID }

func (m *GeminiModel) MaxImagesPerCall() int { return 1 }

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	Seed               *int64             `json:"seed,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiImageResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// DoText2Image creates an image using Gemini's native image generation.
func (m *GeminiModel) DoText2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	return m.generate(ctx, opts, []geminiPart{{Text: opts.Prompt}})
}

// DoImage2Image modifies opts.InputImage using Gemini's multimodal capabilities.
func (m *GeminiModel) DoImage2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	data, mediaType, err := loadInputImage(ctx, m.client, m.Provider(), opts.InputImage)
	if err != nil {
		return nil, err
	}
	parts := []geminiPart{
		{InlineData: &geminiInline{MimeType: mediaType, Data: (&InputImage{Data: data}).Base64()}},
		{Text: opts.Prompt},
	}
	return m.generate(ctx, opts, parts)
}

func (m *GeminiModel) generate(ctx context.Context, opts *CallOptions, parts []geminiPart) (*CallResult, error) {
	var warnings []Warning
	genCfg := &geminiGenConfig{
		ResponseModalities: []string{"IMAGE"},
		Seed:               opts.Seed,
	}
	switch {
	case opts.AspectRatio != "":
		genCfg.ImageConfig = &geminiImageConfig{AspectRatio: opts.AspectRatio}
	case opts.Size != "":
		if w, h, ok := parseSize(opts.Size); ok {
			genCfg.ImageConfig = &geminiImageConfig{AspectRatio: aspectRatioFromSize(w, h)}
			warnings = append(warnings, unsupported("size", "gemini takes an aspect ratio, size was mapped to the closest one"))
		} else {
			warnings = append(warnings, unsupported("size", fmt.Sprintf("cannot parse size %q, using the model default aspect ratio", opts.Size)))
		}
	}
	if opts.NegativePrompt != "" {
		warnings = append(warnings, unsupported("negativePrompt", "gemini does not accept a negative prompt"))
	}
	if opts.Steps > 0 {
		warnings = append(warnings, unsupported("steps", "gemini does not expose sampling steps"))
	}
	if opts.GuidanceScale > 0 {
		warnings = append(warnings, unsupported("guidanceScale", "gemini does not expose guidance scale"))
	}

	body := geminiImageRequest{
		Contents:         []geminiContent{{Parts: parts, Role: "user"}},
		GenerationConfig: genCfg,
	}

	headers := map[string]string{"x-goog-api-key": m.cfg.APIKey}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(m.cfg.BaseURL, "/"), m.modelID)

	var resp geminiImageResponse
	header, err := postJSON(ctx, m.client, m.Provider(), endpoint, headers, body, &resp)
	if err != nil {
		return nil, err
	}

	var images []RawImage
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				images = append(images, RawImage{Text: part.InlineData.Data, MediaType: part.InlineData.MimeType})
			}
		}
	}
	if len(images) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, types.NewError(types.ErrContentFiltered, "gemini blocked the prompt: "+resp.PromptFeedback.BlockReason).
			WithProvider(m.Provider())
	}
	m.logger.Debug("gemini call completed", zap.Int("images", len(images)))

	return &CallResult{
		Images:   images,
		Warnings: warnings,
		Response: ResponseMetadata{
			Timestamp: time.Now(),
			ModelID:   m.modelID,
			Headers:   responseHeaders(header),
		},
	}, nil
}
