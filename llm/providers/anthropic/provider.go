package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentrelay/internal/tlsutil"
	"github.com/BaSui01/agentrelay/llm"
	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"go.uber.org/zap"
)

const providerName = "anthropic"

// Config configures the Claude provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
	Timeout      time.Duration
}

// Provider adapts the Anthropic Messages API to llm.Provider.
type Provider struct {
	client *sdk.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a Claude provider using the official client.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-sonnet-latest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 重试由 llm.RetryableProvider 负责
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(tlsutil.ProviderClient(0)),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := sdk.NewClient(opts...)

	return &Provider{
		client: &client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string                        { return providerName }
func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

// HealthCheck sends a one-token request.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.cfg.DefaultModel),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	})
	status := &llm.HealthStatus{Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		return status, p.mapError(err)
	}
	return status, nil
}

// Completion performs a Messages API call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	system, messages := buildMessages(req.Messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 && req.ToolChoice != "none" {
		tools, err := buildTools(req.Tools)
		if err != nil {
			return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), Provider: providerName}
		}
		params.Tools = tools
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.mapError(err)
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args := json.RawMessage(tu.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	return &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    string(resp.Model),
		Choices: []llm.ChatChoice{{
			FinishReason: string(resp.StopReason),
			Message:      msg,
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		CreatedAt: time.Now(),
	}, nil
}

// buildMessages splits system text out and merges consecutive same-role turns.
func buildMessages(msgs []llm.Message) ([]sdk.TextBlockParam, []sdk.MessageParam) {
	var system []sdk.TextBlockParam
	var out []sdk.MessageParam
	var lastRole llm.Role
	var pending []string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(pending))
		for _, text := range pending {
			blocks = append(blocks, sdk.NewTextBlock(text))
		}
		if lastRole == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
		pending = nil
	}

	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
			continue
		}
		role := m.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		if m.Content != "" {
			pending = append(pending, m.Content)
		}
	}
	flush()
	return system, out
}

func buildTools(schemas []llm.ToolSchema) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		inputSchema := sdk.ToolInputSchemaParam{Type: constant.Object("object")}
		if len(s.Parameters) > 0 {
			var parsed struct {
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			}
			if err := json.Unmarshal(s.Parameters, &parsed); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", s.Name, err)
			}
			inputSchema.Properties = parsed.Properties
			inputSchema.Required = parsed.Required
		}
		tool := sdk.ToolUnionParamOfTool(inputSchema, s.Name)
		if s.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = sdk.String(s.Description)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		e := &llm.Error{Message: apiErr.Error(), HTTPStatus: status, Provider: providerName}
		switch {
		case status == http.StatusUnauthorized:
			e.Code = llm.ErrUnauthorized
		case status == http.StatusForbidden:
			e.Code = llm.ErrForbidden
		case status == http.StatusTooManyRequests:
			e.Code, e.Retryable = llm.ErrRateLimited, true
		case status == 529:
			e.Code, e.Retryable = llm.ErrModelOverloaded, true
		case status == http.StatusBadRequest:
			e.Code = llm.ErrInvalidRequest
		default:
			e.Code, e.Retryable = llm.ErrUpstreamError, status >= 500
		}
		return e
	}
	p.logger.Debug("anthropic transport error", zap.Error(err))
	return &llm.Error{
		Code: llm.ErrUpstreamError, Message: err.Error(),
		HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
	}
}
