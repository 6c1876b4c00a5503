/*
包 cache 管理进程共享的 Redis 连接，并提供带命名空间的 JSON 缓存读写。

# 核心类型

  - Manager：持有 Redis 客户端，负责连接初始化、后台健康检查与优雅关闭。
    Client 暴露底层客户端供分布式锁与模拟作业队列复用；
    GetJSON/SetJSON/Delete 满足 session.StateCache，用于会话读模型快照。
  - ErrCacheMiss：未命中哨兵错误，配合 IsCacheMiss 判断。

键统一加上 "<prefix>:cache:" 前缀，与锁和作业队列的键空间隔离。
*/
package cache
