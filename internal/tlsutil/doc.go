// Package tlsutil 为访问图像服务商 API 的 HTTP 客户端提供统一的 TLS 配置
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
