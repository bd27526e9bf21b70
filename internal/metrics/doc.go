/*
包 metrics 提供基于 Prometheus 的中继服务指标采集。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 向量指标，同时作为
    推理引擎、事件总线、工具调度器和执行器 Hub 的指标接收端。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - Run 指标：按 agent_id/status/reason 统计完成的调用，记录耗时、
    步数以及被丢弃的事件。
  - 工具指标：按 tool_id/source 统计调用次数、成败与耗时。
  - 执行器指标：命令结果、往返耗时、连接生命周期事件以及
    当前在线执行器数量。
  - 数据库指标：活跃/空闲连接数 Gauge。

指标注册到调用方传入的 prometheus.Registerer，测试可使用独立 registry。
*/
package metrics
