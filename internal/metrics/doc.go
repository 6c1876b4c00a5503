/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、作业与模拟、批量编排、会话状态、缓存与数据库。

# 核心类型

  - Collector：指标收集器，按业务域分组持有 Counter、Histogram、Gauge。
    RecordJobSettlement 可直接作为 job.SettleHook，
    RecordSessionTransition 可直接作为 session.TransitionHook。

所有指标按 namespace 隔离，注册到调用方传入的 Registerer。
*/
package metrics
