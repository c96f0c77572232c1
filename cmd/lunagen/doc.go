// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 lunagen 命令行程序入口。

# 概述

cmd/lunagen 把 image 包的批量生成能力包装成命令行工具：读取 .env 与
YAML 配置，按配置构建供应商注册表和带中间件的 Dispatcher，生成图像后
写入输出目录。

# 子命令

  - generate — 文生图，-n 张图按模型的单次上限拆分为多次调用
  - edit     — 图生图，输入为本地文件或 URL
  - models   — 列出已配置的供应商及其单次调用上限
  - version / help

# 运行时组件

  - 日志：zap，级别与格式来自 config.LogConfig
  - 中间件：Recovery → Tracing → Logging → Metrics → Retry → RateLimit → Timeout
  - 指标：Prometheus 独立 Registry，可在退出时写出 textfile
  - 遥测：OpenTelemetry，禁用时为 noop
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
