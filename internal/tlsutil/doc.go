// Package tlsutil 提供集中式 TLS 配置，供 HTTP 服务端与上游
// Provider 客户端共用，
// 为 HTTP 客户端与服务端提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）；Redis 连接不使用它。
package tlsutil
