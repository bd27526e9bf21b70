package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentrelay/types"
)

// ExecutorFunc handles one remote command.
type ExecutorFunc func(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error)

// MockExecutor 是 tools.RemoteExecutor 的模拟实现。
// 未配置的工具默认返回成功结果 "ok"。
type MockExecutor struct {
	mu       sync.Mutex
	handlers map[string]ExecutorFunc
	errs     map[string]error
	calls    []types.ToolCallRequest
}

// NewMockExecutor 创建模拟执行器
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		handlers: make(map[string]ExecutorFunc),
		errs:     make(map[string]error),
	}
}

// WithResult makes toolID succeed with result.
func (m *MockExecutor) WithResult(toolID string, result any) *MockExecutor {
	return m.WithHandler(toolID, func(_ context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
		return types.ToolCallResult{ToolID: req.ToolID, Success: true, Result: result}, nil
	})
}

// WithFailure makes toolID return a failed result with message.
func (m *MockExecutor) WithFailure(toolID, message string) *MockExecutor {
	return m.WithHandler(toolID, func(_ context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
		return types.ToolCallResult{ToolID: req.ToolID, Error: message, ErrorCode: types.ErrToolExecution}, nil
	})
}

// WithError makes toolID fail at the transport level, e.g. with COMMAND_TIMEOUT.
func (m *MockExecutor) WithError(toolID string, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[toolID] = err
	return m
}

// WithHandler 设置自定义处理函数
func (m *MockExecutor) WithHandler(toolID string, fn ExecutorFunc) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[toolID] = fn
	return m
}

// Execute implements tools.RemoteExecutor.
func (m *MockExecutor) Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn, hasFn := m.handlers[req.ToolID]
	err, hasErr := m.errs[req.ToolID]
	m.mu.Unlock()

	if hasErr {
		return types.FailedResult(req.ToolID, err), err
	}
	if hasFn {
		return fn(ctx, req)
	}
	return types.ToolCallResult{ToolID: req.ToolID, Success: true, Result: "ok"}, nil
}

// GetCalls 返回所有调用记录
func (m *MockExecutor) GetCalls() []types.ToolCallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ToolCallRequest(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockExecutor) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
