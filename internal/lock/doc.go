// Package lock 提供按键互斥的租约锁：进程内实现用于单实例部署与测试，
// Redis 实现（SET NX PX + 比较删除/比较续期）用于多实例部署。
// KeepAlive 在长任务期间定期续租，租约丢失时取消派生的 context。
package lock
