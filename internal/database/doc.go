/*
包 database 负责按配置打开 GORM 连接并管理底层连接池。

# 核心类型

  - Open：按 driver（postgres、mysql、sqlite）选择方言并建立连接。
  - PoolManager：连接池管理器，负责池参数调优、后台探活、
    连接数指标上报与优雅关闭。
  - PoolConfig：连接池配置，可由 config.DatabaseConfig 转换得到。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、
序列化失败、连接中断等错误做指数退避重试。
*/
package database
