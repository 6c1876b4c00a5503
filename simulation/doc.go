// Package simulation 为单条用户输入生成一次模拟 Copilot 回复。
//
// 两种可互换策略：TransportStrategy 通过 websocket 直连模拟用户传输通道；
// JobStrategy 将任务提交到分布式作业后端（RedisBackend）。Executor 通过
// job.Runner 调用所选策略，获得统一的超时、取消与单次结算语义。
package simulation
