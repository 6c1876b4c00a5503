// Package store 提供评测数据的持久化：金标集、会话、评分标准、打分记录与终态报告。
//
// GormStore 通过构造时注入的 *gorm.DB 访问数据库，连接的打开与关闭由调用方
// （internal/database）负责。金标集的两条序列以 (golden_set_id, position)
// 唯一索引存储，追加位置错位会被拒绝。
package store
