package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "LLM_INVALID_REQUEST"   // 参数/格式错误
	ErrUnauthorized          ErrorCode = "LLM_UNAUTHORIZED"      // 未授权或密钥失效
	ErrForbidden             ErrorCode = "LLM_FORBIDDEN"         // 权限或内容策略拒绝
	ErrRateLimited           ErrorCode = "LLM_RATE_LIMITED"      // 上游限流
	ErrQuotaExceeded         ErrorCode = "LLM_QUOTA_EXCEEDED"    // 额度/配额用尽
	ErrModelOverloaded       ErrorCode = "LLM_MODEL_OVERLOADED"  // 模型过载
	ErrUpstreamError         ErrorCode = "LLM_UPSTREAM_ERROR"    // 上游 5xx/网络错误
	ErrEmptyResponse         ErrorCode = "LLM_EMPTY_RESPONSE"    // 响应中没有任何 choice
	ErrProviderNotConfigured ErrorCode = "LLM_NOT_CONFIGURED"    // 未配置可用的 Provider
)

// Error is returned by providers for upstream failures.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type ChatRequest struct {
	TraceID     string            `json:"trace_id"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 是推理循环依赖的模型接口。
// 工具通过 ChatRequest.Tools 传入，模型在响应中返回 ToolCalls；
// 工具的执行由 tools.Dispatcher 负责。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck 执行轻量级健康检查
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string

	// SupportsNativeFunctionCalling 返回是否支持原生 Function Calling。
	// 返回 false 时推理循环改为在提示词中描述工具，并解析 "Action: tool(args)" 文本。
	SupportsNativeFunctionCalling() bool
}

// FirstChoice returns the first choice of resp, or an ErrEmptyResponse error.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return ChatChoice{}, &Error{Code: ErrEmptyResponse, Message: "model returned no choices"}
	}
	return resp.Choices[0], nil
}
