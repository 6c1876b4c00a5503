// Package engine 定义外部可中断评测工作流的调用契约，并提供 HTTP 客户端适配器。
//
// 引擎每次 Invoke / Resume 返回一个 Result：Values 为图状态（草稿 / 定稿评分标准、
// 评测结果、终态报告），Interrupt 非空表示引擎在人工节点暂停。
package engine
