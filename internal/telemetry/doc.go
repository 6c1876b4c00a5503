// Package telemetry 封装 OpenTelemetry SDK 初始化，为 evalflow 的批量与会话 span
// 提供 TracerProvider 和 MeterProvider。禁用时使用 noop 实现，不连接外部服务。
package telemetry
