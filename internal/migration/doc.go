/*
包 migration 管理运行记录库（agent_runs 表）的 Schema 版本，支持
PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
表结构与 persistence.RunRecord 保持一致，因此 GormRunStore 启动时的
AutoMigrate 在已迁移的库上不会产生变更。

  - Migrator / DefaultMigrator：Up/Down/DownAll/Goto/Force/Version/Status/Info。
  - CLI：`agentrelay migrate <subcommand>` 的格式化输出层，Run 负责分派子命令。
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 构造迁移器。

SQLite 连接使用与 GORM 相同的纯 Go 驱动 glebarez/go-sqlite。
*/
package migration
