package image

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// openAIMaxImagesPerCall 按模型给出单次调用上限
var openAIMaxImagesPerCall = map[string]int{
	"dall-e-2":    10,
	"dall-e-3":    1,
	"gpt-image-1": 10,
}

// OpenAIModel使用OpenAI图像接口执行文生图与图像编辑.
type OpenAIModel struct {
	cfg     OpenAIConfig
	modelID string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAIModel创建了新的OpenAI图像模型; modelID 为空时使用 cfg.Model.
func NewOpenAIModel(cfg OpenAIConfig, modelID string, logger *zap.Logger) *OpenAIModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if modelID == "" {
		modelID = cfg.Model
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIModel{
		cfg:     cfg,
		modelID: modelID,
		client:  newHTTPClient(cfg.Timeout, 120*time.Second),
		logger:  logger.With(zap.String("provider", "openai"), zap.String("model", modelID)),
	}
}

func (m *OpenAIModel) Provider() string { return "openai" }

func (m *OpenAIModel) ModelID() string { return m.modelID }

func (m *OpenAIModel) MaxImagesPerCall() int {
	if m.cfg.MaxImagesPerCall != 0 {
		return m.cfg.MaxImagesPerCall
	}
	if n, ok := openAIMaxImagesPerCall[m.modelID]; ok {
		return n
	}
	return 1
}

// gpt-image 系列总是返回 b64_json，且不接受 response_format
func (m *OpenAIModel) hasDefaultResponseFormat() bool {
	return strings.HasPrefix(m.modelID, "gpt-image")
}

type openAIImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// warnings 收集 OpenAI 不支持的参数
func (m *OpenAIModel) warnings(opts *CallOptions) []Warning {
	var warnings []Warning
	if opts.AspectRatio != "" {
		warnings = append(warnings, unsupported("aspectRatio", "This model does not support aspect ratio. Use `size` instead."))
	}
	if opts.Seed != nil {
		warnings = append(warnings, unsupported("seed", "OpenAI image models do not accept a seed."))
	}
	if opts.NegativePrompt != "" {
		warnings = append(warnings, unsupported("negativePrompt", "OpenAI image models do not accept a negative prompt."))
	}
	if opts.Steps > 0 {
		warnings = append(warnings, unsupported("steps", "OpenAI image models do not expose sampling steps."))
	}
	if opts.GuidanceScale > 0 {
		warnings = append(warnings, unsupported("guidanceScale", "OpenAI image models do not expose guidance scale."))
	}
	if opts.OutputFormat != "" && !m.hasDefaultResponseFormat() {
		warnings = append(warnings, unsupported("outputFormat", "DALL-E models always return PNG images."))
	}
	return warnings
}

func (m *OpenAIModel) headers(opts *CallOptions) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + m.cfg.APIKey}
	for k, v := range opts.Headers {
		h[k] = v
	}
	return h
}

// DoText2Image 从文本提示生成图像.
func (m *OpenAIModel) DoText2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	body := map[string]any{
		"model":  m.modelID,
		"prompt": opts.Prompt,
		"n":      opts.N,
	}
	if opts.Size != "" {
		body["size"] = opts.Size
	}
	if opts.OutputFormat != "" && m.hasDefaultResponseFormat() {
		body["output_format"] = opts.OutputFormat
	}
	if !m.hasDefaultResponseFormat() {
		body["response_format"] = "b64_json"
	}
	mergeOptions(body, opts.ProviderOptions.Section("openai"))
	m.logger.Debug("openai generation request", zap.Int("n", opts.N), zap.String("size", opts.Size))

	var resp openAIImageResponse
	header, err := postJSON(ctx, m.client, m.Provider(),
		strings.TrimRight(m.cfg.BaseURL, "/")+"/v1/images/generations",
		m.headers(opts), body, &resp)
	if err != nil {
		return nil, err
	}
	return m.toResult(&resp, header, m.warnings(opts), opts.OutputFormat), nil
}

// DoImage2Image 通过 /v1/images/edits 修改输入图像.
func (m *OpenAIModel) DoImage2Image(ctx context.Context, opts *CallOptions) (*CallResult, error) {
	data, mediaType, err := loadInputImage(ctx, m.client, m.Provider(), opts.InputImage)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("openai edit request", zap.Int("n", opts.N), zap.Int("input_bytes", len(data)))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// 添加图像
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="image%s"`, extensionFor(mediaType)))
	partHeader.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}

	_ = writer.WriteField("model", m.modelID)
	_ = writer.WriteField("prompt", opts.Prompt)
	_ = writer.WriteField("n", fmt.Sprintf("%d", opts.N))
	if opts.Size != "" {
		_ = writer.WriteField("size", opts.Size)
	}
	if opts.OutputFormat != "" && m.hasDefaultResponseFormat() {
		_ = writer.WriteField("output_format", opts.OutputFormat)
	}
	if !m.hasDefaultResponseFormat() {
		_ = writer.WriteField("response_format", "b64_json")
	}
	for k, v := range opts.ProviderOptions.Section("openai") {
		_ = writer.WriteField(k, fmt.Sprint(v))
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(m.cfg.BaseURL, "/")+"/v1/images/edits", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range m.headers(opts) {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var resp openAIImageResponse
	header, err := doJSON(m.client, m.Provider(), httpReq, &resp)
	if err != nil {
		return nil, err
	}
	return m.toResult(&resp, header, m.warnings(opts), opts.OutputFormat), nil
}

// toResult 仅在 gpt-image 实际接收 output_format 时标注媒体类型，其余由内容嗅探
func (m *OpenAIModel) toResult(resp *openAIImageResponse, header http.Header, warnings []Warning, outputFormat string) *CallResult {
	mediaType := ""
	if outputFormat != "" && m.hasDefaultResponseFormat() {
		mediaType = "image/" + outputFormat
	}

	images := make([]RawImage, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.B64JSON != "" {
			images = append(images, RawImage{Text: d.B64JSON, MediaType: mediaType})
		} else if d.URL != "" {
			images = append(images, RawImage{Text: d.URL})
		}
	}

	ts := time.Now()
	if resp.Created > 0 {
		ts = time.Unix(resp.Created, 0)
	}
	return &CallResult{
		Images:   images,
		Warnings: warnings,
		Response: ResponseMetadata{
			Timestamp: ts,
			ModelID:   m.modelID,
			Headers:   responseHeaders(header),
		},
	}
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
