// Package batch 编排金标集的批量评测：按位置顺序模拟尚无输出的用户输入，
// 追加成功的模拟结果，并为每个追加的输入/输出对在后台启动评测会话。
//
// 同一金标集上的批量执行由锁互斥，执行期间心跳续租；单个输入的失败只记录日志，
// 不影响批量整体和其他会话。后台会话启动不随调用方取消。
package batch
