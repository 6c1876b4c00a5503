// Package session 将工作流引擎的 invoke / resume 结果投影为评测会话状态机，
// 并驱动评分标准、打分记录与终态报告的持久化。
//
// 状态：pending → awaiting_rubric_review → awaiting_human_evaluation → completed，
// 任一步骤的引擎异常进入 failed。暂停信号由 ClassifyPause 映射为显式的
// PauseKind，无法识别的暂停负载保持当前非终态并等待人工跟进。
package session
