/*
Package types 提供 AgentRelay 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm/tools、agent/remote、
api 等上层模块提供统一的数据契约，避免循环依赖。

# 核心类型

  - AgentDefinition：Agent 定义快照（purpose、系统提示词模板、工具引用、模型、迭代上限、委派目标）
  - ToolDefinition：工具定义（id、名称、描述、有序参数规格）
  - ParameterSpec：参数规格（原始类型、必填、枚举、默认值）
  - ToolCallRequest：一次工具调用（工具 id + 已归一化的参数）
  - ToolCallResult：工具调用结果（成功标记、结果、错误、耗时）
  - ExecutionStep：单次推理迭代记录
  - ExecutionLog：一次调用的完整执行日志
  - Error / ErrorCode：结构化错误体系（校验、工具不存在、执行器不可用、命令超时、委派错误等）
  - JSONSchema：工具参数的 JSON Schema 表示

# 主要能力

  - Context 传播：WithRunID / WithSessionID / WithAgentID / WithDelegationDepth
  - 错误工具链：NewError / WithCause / GetErrorCode / IsErrorCode / IsRetryable
*/
package types
