// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 image 提供统一的图像生成抽象，支持多种模型服务商的文生图与
图生图，并把“生成 N 张图”的逻辑请求拆分为受单次上限约束的多次
provider 调用。

# 概述

每个模型通过 MaxImagesPerCall 声明单次调用最多返回的图像数。
Dispatcher 按 ceil(N / 上限) 计算调用次数：除最后一次外每次请求满额，
最后一次请求余数（余数为 0 时仍为满额）。所有调用并发执行并共享
调用方的 context 与 headers，结果按调用序号而非完成顺序拼接。
任一调用失败即整体失败，不重试、不返回部分结果；返回的图像总数
不与 N 校验，provider 少给时原样交给调用方。

# 核心接口

  - Model / Text2ImageModel / Image2ImageModel：模型接口，
    DoText2Image 与 DoImage2Image 各执行一次 provider 调用。
  - Request / CallOptions：逻辑请求与单次调用参数。
  - GeneratedImage：URL 或数据图像；base64 与字节视图按需互转并缓存。
  - Result：有序图像、按调用顺序拼接的警告、首图便捷访问。

# 主要能力

  - 入口：GenerateText2Image / GenerateImage2Image（默认 Dispatcher）。
  - Provider：OpenAIModel（DALL-E / gpt-image）、FluxModel（异步提交 +
    轮询）、StableDiffusionModel（AUTOMATIC1111 sdapi）、GeminiModel。
  - 中间件：日志、超时、限流、重试、恢复、Prometheus 指标、OTel 追踪。
  - Provider 选项：ProviderOptions 按服务商分节，使用 JSON Schema 校验。
  - Registry：按 "provider:model" 解析模型。
*/
package image
