// =============================================================================
// 📦 测试数据工厂 - LLM 响应测试数据
// =============================================================================
// 提供预定义的模型响应，用于脚本化推理循环
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentrelay/llm"
)

var callSeq atomic.Int64

// =============================================================================
// 🎯 ChatResponse 工厂
// =============================================================================

// TextResponse 返回不含工具调用的文本响应
func TextResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-text",
		Provider: "mock",
		Model:    "mock-model",
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage:     llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		CreatedAt: time.Now(),
	}
}

// ToolCallResponse 返回带一个原生工具调用的响应
func ToolCallResponse(thought, toolID string, args map[string]any) *llm.ChatResponse {
	return ToolCallsResponse(thought, ToolCall(toolID, args))
}

// ToolCallsResponse 返回带多个原生工具调用的响应
func ToolCallsResponse(thought string, calls ...llm.ToolCall) *llm.ChatResponse {
	resp := TextResponse(thought)
	resp.ID = "resp-tool"
	resp.Choices[0].FinishReason = "tool_calls"
	resp.Choices[0].Message.ToolCalls = calls
	return resp
}

// ToolCall 构造一个工具调用
func ToolCall(toolID string, args map[string]any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return llm.ToolCall{
		ID:        fmt.Sprintf("call_%d", callSeq.Add(1)),
		Name:      toolID,
		Arguments: raw,
	}
}

// TextActionResponse 返回文本形式的动作，用于不支持原生函数调用的 Provider
func TextActionResponse(thought, action string) *llm.ChatResponse {
	return TextResponse(fmt.Sprintf("Thought: %s\nAction: %s", thought, action))
}

// EmptyResponse 返回没有任何 choice 的响应
func EmptyResponse() *llm.ChatResponse {
	return &llm.ChatResponse{ID: "resp-empty", Provider: "mock", Model: "mock-model"}
}
