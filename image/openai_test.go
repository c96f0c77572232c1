package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/lunagen/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIModel_MaxImagesPerCall(t *testing.T) {
	assert.Equal(t, 1, NewOpenAIModel(OpenAIConfig{}, "", nil).MaxImagesPerCall(), "dall-e-3 默认")
	assert.Equal(t, 10, NewOpenAIModel(OpenAIConfig{}, "dall-e-2", nil).MaxImagesPerCall())
	assert.Equal(t, 10, NewOpenAIModel(OpenAIConfig{}, "gpt-image-1", nil).MaxImagesPerCall())
	assert.Equal(t, 1, NewOpenAIModel(OpenAIConfig{}, "some-future-model", nil).MaxImagesPerCall())
	assert.Equal(t, 3, NewOpenAIModel(OpenAIConfig{MaxImagesPerCall: 3}, "dall-e-2", nil).MaxImagesPerCall())
}

func TestOpenAIModel_DoText2Image(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(tinyPNG)

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Ratelimit-Remaining", "42")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1700000000,
			"data":    []map[string]any{{"b64_json": b64}, {"b64_json": b64}},
		})
	}))
	defer server.Close()

	seed := int64(7)
	model := NewOpenAIModel(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, "dall-e-2", zap.NewNop())
	res, err := model.DoText2Image(context.Background(), &CallOptions{
		Prompt:          "a red fox",
		N:               2,
		Size:            "512x512",
		Seed:            &seed,
		AspectRatio:     "1:1",
		ProviderOptions: ProviderOptions{"openai": map[string]any{"quality": "hd"}, "flux": map[string]any{"raw": true}},
		Headers:         map[string]string{"X-Request-Id": "trace-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "dall-e-2", body["model"])
	assert.Equal(t, "a red fox", body["prompt"])
	assert.Equal(t, float64(2), body["n"])
	assert.Equal(t, "512x512", body["size"])
	assert.Equal(t, "b64_json", body["response_format"])
	assert.Equal(t, "hd", body["quality"])
	assert.NotContains(t, body, "raw")

	require.Len(t, res.Images, 2)
	assert.Equal(t, b64, res.Images[0].Text)
	assert.Equal(t, time.Unix(1700000000, 0), res.Response.Timestamp)
	assert.Equal(t, "dall-e-2", res.Response.ModelID)
	assert.Equal(t, "42", res.Response.Headers["x-ratelimit-remaining"])

	var settings []string
	for _, w := range res.Warnings {
		settings = append(settings, w.Setting)
	}
	assert.Equal(t, []string{"aspectRatio", "seed"}, settings)
}

func TestOpenAIModel_GPTImageOmitsResponseFormat(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"b64_json": "aGk="}}})
	}))
	defer server.Close()

	model := NewOpenAIModel(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, "gpt-image-1", nil)
	res, err := model.DoText2Image(context.Background(), &CallOptions{Prompt: "x", N: 1, OutputFormat: "webp"})
	require.NoError(t, err)

	assert.NotContains(t, body, "response_format")
	assert.Equal(t, "webp", body["output_format"])
	require.Len(t, res.Images, 1)
	assert.Equal(t, "image/webp", res.Images[0].MediaType)
}

func TestOpenAIModel_DallEIgnoresOutputFormat(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(tinyPNG)

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"b64_json": b64}}})
	}))
	defer server.Close()

	model := NewOpenAIModel(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, "dall-e-3", nil)
	res, err := NewDispatcher().GenerateText2Image(context.Background(), model, Request{Prompt: "x", OutputFormat: "jpeg"})
	require.NoError(t, err)

	assert.NotContains(t, body, "output_format")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningUnsupportedSetting, res.Warnings[0].Type)
	assert.Equal(t, "outputFormat", res.Warnings[0].Setting)
	assert.Equal(t, "image/png", res.Image().MediaType(), "媒体类型按内容嗅探")
}

func TestOpenAIModel_GPTImageEditSendsOutputFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "jpeg", r.FormValue("output_format"))
		assert.Empty(t, r.FormValue("response_format"))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"b64_json": "aGk="}}})
	}))
	defer server.Close()

	model := NewOpenAIModel(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, "gpt-image-1", nil)
	res, err := model.DoImage2Image(context.Background(), &CallOptions{
		Prompt:       "x",
		N:            1,
		OutputFormat: "jpeg",
		InputImage:   &InputImage{Data: tinyPNG},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "image/jpeg", res.Images[0].MediaType)
}

func TestOpenAIModel_ErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Your request was rejected by our safety system","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	model := NewOpenAIModel(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, "dall-e-3", nil)
	_, err := model.DoText2Image(context.Background(), &CallOptions{Prompt: "x", N: 1})

	require.Error(t, err)
	assert.Equal(t, types.ErrContentFiltered, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestOpenAIModel_DoImage2Image(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "dall-e-2", r.FormValue("model"))
		assert.Equal(t, "add a hat", r.FormValue("prompt"))
		assert.Equal(t, "2", r.FormValue("n"))
		assert.Equal(t, "b64_json", r.FormValue("response_format"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "image.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://cdn.test/1.png"}, {"url": "https://cdn.test/2.png"}},
		})
	}))
	defer server.Close()

	model := NewOpenAIModel(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, "dall-e-2", nil)
	res, err := model.DoImage2Image(context.Background(), &CallOptions{
		Prompt:     "add a hat",
		N:          2,
		InputImage: &InputImage{Data: tinyPNG},
	})
	require.NoError(t, err)
	require.Len(t, res.Images, 2)
	assert.Equal(t, "https://cdn.test/1.png", res.Images[0].Text)
}

func TestOpenAIModel_Image2ImageRequiresInput(t *testing.T) {
	model := NewOpenAIModel(OpenAIConfig{APIKey: "k"}, "dall-e-2", nil)
	_, err := model.DoImage2Image(context.Background(), &CallOptions{Prompt: "x", N: 1})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestOpenAIModel_WithDispatcher(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": "https://cdn.test/x.png"}}})
	}))
	defer server.Close()

	model := NewOpenAIModel(OpenAIConfig{APIKey: "k", BaseURL: server.URL}, "dall-e-3", nil)
	res, err := NewDispatcher(WithMaxParallelCalls(1)).GenerateText2Image(context.Background(), model, Request{Prompt: "x", N: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Len(t, res.Images, 3)
	assert.True(t, res.Image().IsURL())
	assert.Equal(t, "image/png", res.Image().MediaType())
}
