/*
Package agent 实现 AgentRelay 的推理引擎。

# 概述

Engine 按 ReAct 循环驱动一个 Agent：向 LLM 请求下一步思考与动作，
经 tools.Dispatcher 执行工具调用，把观察结果反馈给模型，直到模型给出
结论、命中完成短语、达到迭代上限或被取消。

# 核心类型

  - Engine：运行入口，Run 返回 types.ExecutionLog
  - Catalog：Agent 定义的只读来源，Presets 提供内置定义
  - Emitter：运行事件扇出，慢订阅者丢弃事件而不阻塞引擎
  - CompletionPolicy：基于完成短语的结束判定

# 委派

delegate_to_agent 工具把子任务交给目录中的另一个 Agent。委派深度受
Config.MaxDelegationDepth 限制，同一调用链上不允许出现重复的 Agent。

# 循环保护

同一工具与相同参数被提议 RepeatThreshold 次后，运行以说明性的最终回复结束，
不再执行该动作。达到迭代上限时状态为 incomplete。
*/
package agent
