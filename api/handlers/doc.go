/*
Package handlers 提供 AgentRelay HTTP API 的请求处理器实现。

# 核心类型

  - RunHandler：启动运行（同步）、查询与列出已存储的运行
  - AgentHandler：只读的 Agent 目录查询
  - ExecutorHandler：执行器会话列表
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 WebSocket 升级

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射集中在一个 switch 中
  - 失败的运行（status=error）连同执行日志一起返回
*/
package handlers
