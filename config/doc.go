// Package config 提供 lunagen 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 LUNAGEN）的顺序合并，
// 供应商 API Key 未配置时回退到 OPENAI_API_KEY 等通用变量。
package config
