/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

Manager 封装 net/http.Server，负责监听、服务、关闭与错误传播。
中继进程为 API（含 /ws/executor、/ws/events）与 Prometheus 指标各启动
一个 Manager，由 errgroup 通过 Run(ctx) 统一驱动：ctx 结束或任一服务
异常退出时，所有服务在 ShutdownTimeout 内优雅关闭。

配置了证书与私钥时 Start 以 TLS 提供服务，TLS 参数来自 internal/tlsutil。
*/
package server
