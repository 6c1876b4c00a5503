/*
包 migration 基于 golang-migrate 管理数据库 Schema 版本，
支持 PostgreSQL、MySQL 与 SQLite 三种方言。

迁移文件以 embed.FS 内嵌在 migrations/<driver>/ 下，表结构与
store 包的模型一一对应。Migrator 提供 Up/Down/Force/Version/Status，
CLI 在其上提供 evalflow migrate 子命令的终端输出。
*/
package migration
