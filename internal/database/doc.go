/*
包 database 负责打开运行记录所用的关系数据库，并管理 GORM 连接池。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、GetStats()、Close()。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期、
    空闲超时与健康检查间隔。

# 驱动

Open / Dialector 支持 sqlite（glebarez/sqlite，无需 cgo）、postgres 与 mysql。
后台健康检查定时 PingContext 探活，失败时记录 zap 日志。
*/
package database
