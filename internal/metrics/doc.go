// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的图像生成指标采集能力，覆盖
单次 provider 调用与批量请求两个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
注册到调用方传入的 Registerer（为空时使用默认 Registry）。所有指标
按 namespace 隔离，按 provider/model/kind 分组。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 向量指标。

# 主要能力

  - 调用指标：调用总数（按 status）、调用耗时、返回图像数、警告数。
  - 批量指标：批量请求总数、每批调用数分布，以及 provider 少返回
    的图像缺口（image_shortfall_total）。
*/
package metrics
