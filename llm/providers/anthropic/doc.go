/*
# 概述

包 anthropic 提供 Anthropic Claude 系列模型的 Provider 适配实现，
基于官方 anthropic-sdk-go 调用 Messages API（/v1/messages）。

# 协议差异

  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 连续的同角色消息会被合并，满足 user/assistant 交替的要求
  - 工具以 tool_use 内容块返回，输入为 JSON 对象
*/
package anthropic
