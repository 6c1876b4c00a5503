// Package tlsutil 提供集中式 TLS 配置，供工作流引擎 HTTP 客户端、
// 模拟传输 websocket 拨号与 Redis 连接复用（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
