/*
Package types 提供 evalflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 job、simulation、session、
batch 与 api 等上层模块提供统一的错误与上下文契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - IsInputError：区分输入类错误（缺失记录、thread id 不匹配、未知补丁目标）

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithRequestID
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
*/
package types
