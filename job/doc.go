// Package job 提供单次异步操作的生命周期封装（启动 / 等待 / 停止）。
//
// Runner 保证至多一次结算：操作完成、等待计时器超时与调用方 Stop
// 三者中最先发生者生效，其余结算尝试被静默丢弃。操作内的错误与 panic
// 统一转换为 failed 结果，超时以独立的 ErrTimeout 报告。
package job
