/*
Package main 提供 AgentRelay 服务端程序入口。

# 概述

cmd/agentrelay 装配推理引擎、执行器连接中心、事件观察者与 HTTP API，
并提供数据库迁移、健康检查和版本查询等子命令。

# 核心类型

  - Server：组件装配与生命周期，API 与 Metrics 服务器由 errgroup 统一管理
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、JWTAuth、SessionRateLimiter
  - JWT 的 session_id 声明（缺省 user_id）决定调用方驱动的执行器会话
  - /ws/executor 接入远程执行器，/ws/events 推送运行事件
  - Metrics 端口为 0 时 /metrics 挂在 API 端口上
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
