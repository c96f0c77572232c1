package image

import (
	"encoding/base64"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
)

// GeneratedImage is one generated image. It is backed either by a remote URL or by
// image data; data images keep whichever of base64 and raw bytes they were built
// from and derive the other view on first access.
type GeneratedImage struct {
	url       string
	mediaType string

	hasBase64 bool
	hasBytes  bool

	b64Once sync.Once
	b64     string

	bytesOnce sync.Once
	bytes     []byte
	bytesErr  error

	mediaOnce sync.Once
}

// NewURLImage returns an image that references a remote URL.
func NewURLImage(rawURL string) *GeneratedImage {
	return &GeneratedImage{url: rawURL}
}

// NewBase64Image returns a data image built from its base64 text.
func NewBase64Image(b64 string, mediaType string) *GeneratedImage {
	return &GeneratedImage{b64: b64, hasBase64: true, mediaType: mediaType}
}

// NewBinaryImage returns a data image built from raw bytes.
func NewBinaryImage(data []byte, mediaType string) *GeneratedImage {
	return &GeneratedImage{bytes: data, hasBytes: true, mediaType: mediaType}
}

// newGeneratedImage 按原始返回值的形态包装：bytes → 二进制；http 开头的字符串 → URL；其余 → base64
func newGeneratedImage(raw RawImage) *GeneratedImage {
	if raw.Bytes != nil {
		return NewBinaryImage(raw.Bytes, raw.MediaType)
	}
	if strings.HasPrefix(raw.Text, "http") {
		img := NewURLImage(raw.Text)
		img.mediaType = raw.MediaType
		return img
	}
	return NewBase64Image(raw.Text, raw.MediaType)
}

// IsURL reports whether the image is a remote reference.
func (g *GeneratedImage) IsURL() bool {
	return !g.hasBase64 && !g.hasBytes
}

// URL returns the remote URL, or "" for data images.
func (g *GeneratedImage) URL() string {
	return g.url
}

// Base64 returns the standard base64 text of a data image, or "" for URL images.
func (g *GeneratedImage) Base64() string {
	if g.hasBase64 {
		return g.b64
	}
	if !g.hasBytes {
		return ""
	}
	g.b64Once.Do(func() {
		g.b64 = base64.StdEncoding.EncodeToString(g.bytes)
	})
	return g.b64
}

// Bytes returns the raw bytes of a data image. URL images return nil, nil; the
// caller fetches them itself.
func (g *GeneratedImage) Bytes() ([]byte, error) {
	if g.hasBytes {
		return g.bytes, nil
	}
	if !g.hasBase64 {
		return nil, nil
	}
	g.bytesOnce.Do(func() {
		g.bytes, g.bytesErr = decodeBase64(g.b64)
	})
	return g.bytes, g.bytesErr
}

// MediaType returns the declared media type, falling back to content sniffing for
// data images and to the file extension for URL images.
func (g *GeneratedImage) MediaType() string {
	g.mediaOnce.Do(func() {
		if g.mediaType != "" {
			return
		}
		if g.IsURL() {
			g.mediaType = mediaTypeFromURL(g.url)
			return
		}
		data, err := g.Bytes()
		if err != nil || len(data) == 0 {
			return
		}
		if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
			g.mediaType = ct
		}
	})
	return g.mediaType
}

func mediaTypeFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	mt := mime.TypeByExtension(ext)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not, and an
// optional data: URL prefix.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "-_") {
		s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	}
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
