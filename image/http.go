package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/lunagen/internal/tlsutil"
	"github.com/BaSui01/lunagen/types"
)

// maxInputImageBytes caps input images fetched by URL.
const maxInputImageBytes = 20 << 20

func newHTTPClient(timeout, fallback time.Duration) *http.Client {
	if timeout == 0 {
		timeout = fallback
	}
	return tlsutil.SecureHTTPClient(timeout)
}

// postJSON sends body as JSON and decodes a 2xx response into out.
func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, body, out any) (http.Header, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err).WithProvider(provider)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return doJSON(client, provider, httpReq, out)
}

// doJSON executes req, maps HTTP failures to *types.Error and decodes the body.
func doJSON(client *http.Client, provider string, req *http.Request, out any) (http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.NewError(types.ErrUpstreamError, provider+" request failed").
			WithCause(err).WithRetryable(true).WithProvider(provider)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.Header, types.MapHTTPStatus(resp.StatusCode, readErrorMessage(resp.Body), provider)
	}
	if out == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.Header, types.NewError(types.ErrUpstreamError, "decode "+provider+" response").
			WithCause(err).WithHTTPStatus(resp.StatusCode).WithProvider(provider)
	}
	return resp.Header, nil
}

// readErrorMessage 尝试解析通用错误响应，失败时回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if s, ok := errResp.Detail.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(data))
}

// responseHeaders flattens h for ResponseMetadata.
func responseHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

// loadInputImage returns the bytes of in, downloading it when only a URL is set.
func loadInputImage(ctx context.Context, client *http.Client, provider string, in *InputImage) ([]byte, string, error) {
	if in == nil {
		return nil, "", types.NewError(types.ErrInvalidRequest, "input image is required for image2image").WithProvider(provider)
	}
	if len(in.Data) > 0 {
		mediaType := in.MediaType
		if mediaType == "" {
			mediaType = http.DetectContentType(in.Data)
		}
		return in.Data, mediaType, nil
	}
	if in.URL == "" {
		return nil, "", types.NewError(types.ErrInvalidRequest, "input image has neither data nor url").WithProvider(provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, "", types.NewError(types.ErrInvalidRequest, "invalid input image url").WithCause(err).WithProvider(provider)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", types.NewError(types.ErrUpstreamError, "download input image").WithCause(err).WithProvider(provider)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", types.NewError(types.ErrInvalidRequest, fmt.Sprintf("download input image: status %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode).WithProvider(provider)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInputImageBytes))
	if err != nil {
		return nil, "", types.NewError(types.ErrUpstreamError, "read input image").WithCause(err).WithProvider(provider)
	}

	mediaType := in.MediaType
	if mediaType == "" {
		mediaType = resp.Header.Get("Content-Type")
	}
	if mediaType == "" || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	return data, mediaType, nil
}

// parseSize parses "WxH".
func parseSize(size string) (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(size), "x")
	if !found {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// aspectRatioFromSize reduces WxH to the closest of the common ratios providers accept.
func aspectRatioFromSize(width, height int) string {
	ratios := []struct {
		name  string
		value float64
	}{
		{"1:1", 1}, {"16:9", 16.0 / 9}, {"9:16", 9.0 / 16}, {"4:3", 4.0 / 3}, {"3:4", 3.0 / 4},
		{"3:2", 3.0 / 2}, {"2:3", 2.0 / 3}, {"21:9", 21.0 / 9}, {"9:21", 9.0 / 21},
	}
	target := float64(width) / float64(height)
	best, bestDiff := "1:1", -1.0
	for _, r := range ratios {
		diff := r.value - target
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = r.name, diff
		}
	}
	return best
}

func unsupported(setting, message string) Warning {
	return Warning{Type: WarningUnsupportedSetting, Setting: setting, Message: message}
}
