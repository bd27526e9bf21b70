/*
包 llm 定义推理循环与模型服务之间的边界。

# 概述

推理循环把模型视为黑盒函数：消息列表 + 工具 Schema → 文本和/或工具调用列表。
本包只描述这一契约，不关心具体服务商。具体实现位于 providers 子包：

  - providers/openaicompat：OpenAI 兼容的 Chat Completions 接口（HTTP）
  - providers/anthropic：基于 anthropic-sdk-go 的 Messages 接口

# 核心类型

  - [Provider]：Completion / HealthCheck / Name / SupportsNativeFunctionCalling
  - [ChatRequest] / [ChatResponse]：请求与响应
  - [Error]：统一错误，携带 HTTP 状态与可重试标记
  - [RetryableProvider]：对可重试错误做指数退避的包装器

工具子包 tools 提供工具注册表、参数校验与分发。
*/
package llm
