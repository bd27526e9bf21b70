// MockProvider 是 llm.Provider 的脚本化模拟实现。
//
// 按顺序返回预设响应，支持错误注入、延迟与调用记录。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/llm"
)

// ErrScriptExhausted is returned once every scripted response has been used
// and no fallback response is set.
var ErrScriptExhausted = errors.New("mock provider: no more scripted responses")

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	script   []*llm.ChatResponse
	fallback *llm.ChatResponse
	errs     map[int]error
	native   bool
	delay    time.Duration
	fn       func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// NewMockProvider 创建新的 MockProvider，默认支持原生函数调用
func NewMockProvider() *MockProvider {
	return &MockProvider{native: true, errs: make(map[int]error)}
}

// WithResponses appends scripted responses, returned one per call in order.
func (m *MockProvider) WithResponses(resps ...*llm.ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resps...)
	return m
}

// WithFallback sets the response returned after the script runs out.
func (m *MockProvider) WithFallback(resp *llm.ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
	return m
}

// WithErrorAt makes the n-th call (1-based) fail with err.
func (m *MockProvider) WithErrorAt(n int, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[n] = err
	return m
}

// WithNativeFunctionCalling 设置是否支持原生函数调用
func (m *MockProvider) WithNativeFunctionCalling(native bool) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native = native
	return m
}

// WithDelay 设置每次调用的延迟，延迟期间响应 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCompletionFunc replaces the script with fn.
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return "mock"
}

// SupportsNativeFunctionCalling 返回是否支持原生函数调用
func (m *MockProvider) SupportsNativeFunctionCalling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native
}

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// Completion returns the next scripted response.
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	delay, fn := m.delay, m.fn
	n := len(m.calls) + 1
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, m.record(req, nil, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, m.record(req, nil, err)
	}
	if fn != nil {
		resp, err := fn(ctx, req)
		return resp, m.record(req, resp, err)
	}

	m.mu.Lock()
	if err, ok := m.errs[n]; ok {
		m.mu.Unlock()
		return nil, m.record(req, nil, err)
	}
	var resp *llm.ChatResponse
	switch {
	case len(m.script) > 0:
		resp = m.script[0]
		m.script = m.script[1:]
	case m.fallback != nil:
		resp = m.fallback
	}
	m.mu.Unlock()

	if resp == nil {
		return nil, m.record(req, nil, ErrScriptExhausted)
	}
	return resp, m.record(req, resp, nil)
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
	return err
}

// GetCalls 返回所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastRequest 返回最后一次请求
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Request
}
