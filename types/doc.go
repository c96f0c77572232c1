// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 lunagen 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 image、config 与 cmd
提供统一的错误契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 上游映射：MapHTTPStatus 将图像服务商的 HTTP 状态码归类为 ErrorCode
*/
package types
