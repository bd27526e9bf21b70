/*
包 persistence 提供 Agent 目录与运行记录的持久化存储。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - CatalogStore: Agent 定义的读写接口，读侧即 agent.Catalog，
    可直接交给 Engine 使用。锁定的 Agent 不能被覆盖或删除（ErrLocked）。
  - GormRunStore: 保存顶层运行结束后的 ExecutionLog，实现 agent.RunRecorder。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 单个 YAML/JSON 文档（按扩展名选择），原子写入，适合单节点部署。
  - Redis: JSON 字符串加有序集合索引，多个实例共享同一目录。
  - GORM: SQLite / PostgreSQL / MySQL 保存运行记录。

# 使用方式

	store, err := persistence.NewCatalogStore(ctx, config)
	runs, err := persistence.NewGormRunStore(db, logger)

config.Seed 为 true 时，空目录会写入 agent.Presets() 中的内置 Agent。
*/
package persistence
