package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/lunagen/image"
	"github.com/BaSui01/lunagen/internal/tlsutil"
)

const maxDownloadBytes = 64 << 20

var downloadClient = tlsutil.SecureHTTPClient(2 * time.Minute)

// writeResult 把数据图像写入 dir，URL 图像直接打印（或在 download 时下载）。
// 返回写入的文件数。
func writeResult(ctx context.Context, res *image.Result, dir string, download bool, stdout io.Writer) (int, error) {
	if _, err := res.RequireImage(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	// 同一批次的文件共享前缀，便于区分多次运行
	prefix := time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
	saved := 0
	for i, img := range res.Images {
		var (
			data      []byte
			mediaType = img.MediaType()
			err       error
		)
		switch {
		case img.IsURL() && !download:
			fmt.Fprintln(stdout, img.URL())
			continue
		case img.IsURL():
			data, mediaType, err = fetchImage(ctx, img.URL(), mediaType)
		default:
			data, err = img.Bytes()
		}
		if err != nil {
			return saved, fmt.Errorf("image %d: %w", i, err)
		}

		path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", prefix, i, extensionFor(mediaType)))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return saved, fmt.Errorf("write image %d: %w", i, err)
		}
		saved++
		fmt.Fprintln(stdout, path)
	}
	return saved, nil
}

func fetchImage(ctx context.Context, rawURL, mediaType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	if mediaType == "" {
		mediaType = resp.Header.Get("Content-Type")
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	return data, mediaType, nil
}

func extensionFor(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
