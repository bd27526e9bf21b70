/*
包 streaming 把 Engine 的事件流推送给 WebSocket 观察者（UI 客户端）。

# 核心类型

  - EventConnection：将 github.com/coder/websocket 连接适配为事件写入端，
    写操作通过 mutex 保护并发安全
  - Observer：HTTP Handler，升级连接后向 agent.Emitter 订阅，
    按 session_id 或 run_id 过滤，逐条写出 JSON 事件

# 行为

  - 观察者中途加入时只会收到之后的事件，不做回放
  - 订阅缓冲区满时事件被丢弃，不会阻塞推理循环
  - 客户端断开后立即取消订阅
*/
package streaming
