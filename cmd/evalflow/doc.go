/*
Package main 提供 evalflow 服务端程序入口。

# 子命令

  - serve    启动 HTTP API 与独立的 Metrics 端口，收到 SIGINT/SIGTERM 后优雅关闭
  - migrate  执行内嵌 SQL 迁移：up、down --steps、status、version、force
  - health   请求 /ready，非 200 时以非零状态退出
  - version  打印 ldflags 注入的构建信息

# 中间件链

Recovery、RequestID、SecurityHeaders、RequestLogger、Metrics、OTelTracing、
CORS、RateLimiter（按 IP）、APIKeyAuth，配置 JWT 后追加 JWTAuth。
JWTAuth 把 user_id（缺省取 sub）写入上下文，作为评审人与评估人的默认值。

# 组装

Server 按配置打开数据库连接池，Redis 启用时使用 Redis 锁与会话状态缓存，
否则退化为进程内锁；随后依次构建模拟执行器、工作流引擎客户端、会话管理器
和批量编排器，并注册健康检查。
*/
package main
