package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/lunagen/image"
)

// generateFlags 是 generate 与 edit 共用的命令行参数
type generateFlags struct {
	config      string
	envFile     string
	model       string
	prompt      string
	n           int
	maxPerCall  int
	size        string
	aspectRatio string
	seed        string
	steps       int
	guidance    float64
	negative    string
	format      string
	options     string
	out         string
	download    bool
	input       string
}

func newGenerateFlagSet(name string, output io.Writer) (*flag.FlagSet, *generateFlags) {
	f := &generateFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.config, "config", "", "Path to config file")
	fs.StringVar(&f.envFile, "env-file", "", "Path to .env file")
	fs.StringVar(&f.model, "model", "", "Model id (provider:model)")
	fs.StringVar(&f.prompt, "prompt", "", "Prompt (defaults to the remaining arguments)")
	fs.IntVar(&f.n, "n", 0, "Number of images")
	fs.IntVar(&f.maxPerCall, "max-per-call", 0, "Override images per provider call")
	fs.StringVar(&f.size, "size", "", "Image size WxH")
	fs.StringVar(&f.aspectRatio, "aspect-ratio", "", "Aspect ratio W:H")
	fs.StringVar(&f.seed, "seed", "", "Seed")
	fs.IntVar(&f.steps, "steps", 0, "Sampling steps")
	fs.Float64Var(&f.guidance, "guidance", 0, "Guidance scale")
	fs.StringVar(&f.negative, "negative", "", "Negative prompt")
	fs.StringVar(&f.format, "format", "", "Output format: png, jpeg, webp")
	fs.StringVar(&f.options, "options", "", "Provider options as JSON")
	fs.StringVar(&f.out, "out", "", "Output directory")
	fs.BoolVar(&f.download, "download", false, "Download URL images")
	if name == "edit" {
		fs.StringVar(&f.input, "input", "", "Input image path or URL")
	}
	return fs, f
}

// request 把命令行参数转换为 image.Request
func (f *generateFlags) request(prompt string, defaultN int) (image.Request, error) {
	req := image.Request{
		Prompt:           prompt,
		NegativePrompt:   f.negative,
		N:                f.n,
		Steps:            f.steps,
		GuidanceScale:    f.guidance,
		Size:             f.size,
		AspectRatio:      f.aspectRatio,
		OutputFormat:     f.format,
		MaxImagesPerCall: f.maxPerCall,
	}
	if req.N < 0 {
		return req, fmt.Errorf("-n must not be negative, got %d", req.N)
	}
	if req.N == 0 {
		req.N = defaultN
	}
	if f.maxPerCall < image.Unbounded {
		return req, fmt.Errorf("--max-per-call must be -1 or greater, got %d", f.maxPerCall)
	}
	if f.seed != "" {
		seed, err := strconv.ParseInt(f.seed, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid --seed %q: %w", f.seed, err)
		}
		req.Seed = &seed
	}
	if f.options != "" {
		var opts map[string]any
		if err := json.Unmarshal([]byte(f.options), &opts); err != nil {
			return req, fmt.Errorf("invalid --options: %w", err)
		}
		req.ProviderOptions = image.ProviderOptions(opts)
	}
	return req, nil
}

func runGenerate(args []string, stdout, stderr io.Writer) error {
	return runGeneration(image.KindText2Image, "generate", args, stdout, stderr)
}

func runEdit(args []string, stdout, stderr io.Writer) error {
	return runGeneration(image.KindImage2Image, "edit", args, stdout, stderr)
}

func runGeneration(kind image.Kind, name string, args []string, stdout, stderr io.Writer) error {
	fs, f := newGenerateFlagSet(name, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := f.prompt
	if prompt == "" {
		prompt = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("a prompt is required")
	}
	if kind == image.KindImage2Image && f.input == "" {
		return errors.New("--input is required for edit")
	}

	a, err := newApp(f.config, f.envFile)
	if err != nil {
		return err
	}
	defer a.close()

	req, err := f.request(prompt, a.cfg.Generation.DefaultN)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res *image.Result
	switch kind {
	case image.KindImage2Image:
		model, err := a.models.Image2Image(f.model)
		if err != nil {
			return err
		}
		if req.InputImage, err = readInputImage(f.input); err != nil {
			return err
		}
		res, err = a.dispatcher.GenerateImage2Image(ctx, model, req)
		if err != nil {
			return err
		}
	default:
		model, err := a.models.Text2Image(f.model)
		if err != nil {
			return err
		}
		res, err = a.dispatcher.GenerateText2Image(ctx, model, req)
		if err != nil {
			return err
		}
	}

	outDir := f.out
	if outDir == "" {
		outDir = a.cfg.Generation.OutputDir
	}
	saved, err := writeResult(ctx, res, outDir, f.download, stdout)
	a.recordSaved(ctx, saved)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "warning: %s\n", w)
	}
	a.logger.Info("generation finished",
		zap.Int("requested", req.N),
		zap.Int("returned", len(res.Images)),
		zap.Int("saved", saved),
		zap.Int("warnings", len(res.Warnings)),
	)
	return nil
}

// readInputImage 读取本地文件；http(s) 地址交给供应商下载
func readInputImage(src string) (*image.InputImage, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return &image.InputImage{URL: src}, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read input image: %w", err)
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(src)))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return &image.InputImage{Data: data, MediaType: mediaType}, nil
}
