// Package config 提供 AgentRelay 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，
// 环境变量以 AGENTRELAY_ 为前缀，按结构体 env 标签拼接，
// 例如 AGENTRELAY_EXECUTOR_COMMAND_TIMEOUT=45s。
package config
