/*
Package testutil 提供 AgentRelay 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext（随测试结束取消）/ CancelledContext
  - 通道辅助: Receive 等待下一个值并在超时时让测试失败；Drain 取回已缓冲的事件
  - 响应解码: DecodeData 解析 API 响应信封中的 data
  - 远程执行器: DialExecutor 通过真实 WebSocket 连接完成握手并应答命令

# 子包

  - testutil/mocks: MockProvider（脚本化 LLM Provider）与
    MockExecutor（tools.RemoteExecutor），均支持 Builder 模式与错误注入
  - testutil/fixtures: 测试数据工厂，提供 Agent 定义、工具定义与
    ChatResponse 样例

# 使用示例

	provider := mocks.NewMockProvider().WithResponses(
		fixtures.ToolCallResponse("move", "mouse_move", map[string]any{"x": 10, "y": 20}),
		fixtures.TextResponse("done"),
	)
*/
package testutil
