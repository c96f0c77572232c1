// =============================================================================
// lunagen 主入口
// =============================================================================
// 批量图像生成命令行工具
//
// 使用方法:
//
//	lunagen generate -n 4 "a lighthouse at dusk"        # 文生图
//	lunagen generate --model flux:flux-2-pro "a cat"     # 指定模型
//	lunagen edit --input photo.png "make it watercolor"  # 图生图
//	lunagen models                                       # 列出可用供应商
//	lunagen version                                      # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/lunagen/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(os.Args[2:], os.Stdout, os.Stderr)
	case "edit":
		err = runEdit(os.Args[2:], os.Stdout, os.Stderr)
	case "models":
		err = runModels(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "lunagen %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `lunagen - batched image generation

Usage:
  lunagen <command> [options] <prompt>

Commands:
  generate  Generate images from a prompt
  edit      Transform an input image according to a prompt
  models    List configured providers
  version   Show version information
  help      Show this help message

Options for 'generate' and 'edit':
  --config <path>        Path to configuration file (YAML)
  --env-file <path>      Path to a .env file (default: ./.env if present)
  --model <id>           Model id, e.g. openai:dall-e-3 (default from config)
  -n <count>             Number of images
  --max-per-call <n>     Override the model's images-per-call limit
  --size <WxH>           Image size, e.g. 1024x1024
  --aspect-ratio <r>     Aspect ratio, e.g. 16:9
  --seed <int>           Seed
  --steps <int>          Sampling steps
  --guidance <float>     Guidance scale
  --negative <text>      Negative prompt
  --format <fmt>         Output format: png, jpeg, webp
  --options <json>       Provider options, e.g. '{"openai":{"quality":"hd"}}'
  --out <dir>            Output directory (default from config)
  --download             Download URL images into the output directory
  --input <path|url>     Input image ('edit' only)

Examples:
  lunagen generate -n 4 "a lighthouse at dusk"
  lunagen generate --model stable-diffusion --size 768x512 -n 8 "mountains"
  lunagen edit --model openai:dall-e-2 --input cat.png "add a party hat"
  lunagen models --config lunagen.yaml`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	// 构建配置
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	// 构建 logger
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
