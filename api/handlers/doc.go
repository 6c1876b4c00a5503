/*
包 handlers 实现 evalflow 的 HTTP 处理器。

# 核心类型

  - GoldenSetHandler：金标集的创建、追加输入与查询。
  - EvaluationHandler：批量执行、会话启动、评分标准审核、人工评分与会话状态查询。
  - HealthHandler：存活、就绪与版本端点。

错误统一经 WriteError 输出，*types.Error 的错误码通过 HTTPStatusFor
映射到状态码，其余错误按 INTERNAL_ERROR 处理。
*/
package handlers
