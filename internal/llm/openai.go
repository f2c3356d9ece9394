// Package llm 提供特征抽取等任务使用的对话模型实现。
// 所有实现都满足 eino 的 model.ToolCallingChatModel 接口，调用方只依赖该接口。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cvmatch-go/internal/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
	// 错误信息中保留的响应体长度
	maxErrorBodyLength = 512
)

// APIError 模型服务返回的非 200 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API 请求失败，状态 %d: %s", e.StatusCode, e.Body)
}

// Retryable 限流和服务端错误可以重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Tools          []openAITool    `json:"tools,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	TopP           *float32        `json:"top_p,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIChatModel OpenAI 兼容的 chat completions 客户端 (OpenAI、DashScope、vLLM 等)
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float32
	maxTokens   *int
	jsonMode    bool
	httpClient  *http.Client
	tools       []openAITool
}

// OpenAIOption OpenAIChatModel 的可选配置
type OpenAIOption func(*OpenAIChatModel)

// WithHTTPClient 替换默认的 http.Client
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(m *OpenAIChatModel) { m.httpClient = c }
}

// WithTemperature 默认温度，可被单次调用的 model.WithTemperature 覆盖
func WithTemperature(t float32) OpenAIOption {
	return func(m *OpenAIChatModel) { m.temperature = &t }
}

// WithMaxTokens 默认最大输出 token 数
func WithMaxTokens(n int) OpenAIOption {
	return func(m *OpenAIChatModel) {
		if n > 0 {
			m.maxTokens = &n
		}
	}
}

// WithJSONMode 要求模型只输出 JSON 对象
func WithJSONMode(enabled bool) OpenAIOption {
	return func(m *OpenAIChatModel) { m.jsonMode = enabled }
}

// NewOpenAIChatModel 创建 OpenAI 兼容的对话模型
func NewOpenAIChatModel(apiKey, modelName, apiURL string, opts ...OpenAIOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultOpenAIModel
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultOpenAIURL
	}

	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Model 返回模型名称
func (m *OpenAIChatModel) Model() string { return m.modelName }

func toOpenAIMessages(messages []*schema.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		content := msg.Content
		om := openAIMessage{
			Role:       string(msg.Role),
			Content:    &content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

// Generate 实现 model.BaseChatModel
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		Model:       &m.modelName,
	}, opts...)

	req := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    toOpenAIMessages(messages),
		Tools:       m.tools,
		Temperature: common.Temperature,
		MaxTokens:   common.MaxTokens,
		TopP:        common.TopP,
		Stop:        common.Stop,
	}
	if common.Model != nil && *common.Model != "" {
		req.Model = *common.Model
	}
	if m.jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	logger.Debug().
		Str("model", req.Model).
		Int("status", httpResp.StatusCode).
		Dur("duration", time.Since(start)).
		Int("response_bytes", len(respBody)).
		Msg("LLM 请求完成")

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: truncate(string(respBody), maxErrorBodyLength)}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("API 返回了空的 choices")
	}

	choice := parsed.Choices[0].Message
	out := &schema.Message{Role: schema.Assistant}
	if choice.Role != "" {
		out.Role = schema.RoleType(choice.Role)
	}
	if choice.Content != nil {
		out.Content = *choice.Content
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID: tc.ID,
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

// Stream 以单个分片返回 Generate 的结果
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 返回绑定了工具的副本，原实例不受影响
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]openAITool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("转换工具 %s 的参数失败: %w", info.Name, err)
			}
			raw, err := json.Marshal(s)
			if err != nil {
				return nil, fmt.Errorf("序列化工具 %s 的参数失败: %w", info.Name, err)
			}
			params = raw
		}
		bound = append(bound, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}

	clone := *m
	clone.tools = bound
	return &clone, nil
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
