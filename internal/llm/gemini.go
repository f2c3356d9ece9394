package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// ErrToolsUnsupported Gemini 实现不支持工具调用
var ErrToolsUnsupported = errors.New("llm: tool calling is not supported by this model")

// GeminiChatModel 基于 google.golang.org/genai 的对话模型，只输出 JSON
type GeminiChatModel struct {
	client      *genai.Client
	modelName   string
	temperature *float32
	maxTokens   int32
}

// NewGeminiChatModel 创建 Gemini API 客户端
func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, temperature float32, maxTokens int) (*GeminiChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 genai 客户端失败: %w", err)
	}

	m := &GeminiChatModel{client: client, modelName: modelName, maxTokens: int32(maxTokens)}
	if temperature > 0 {
		m.temperature = genai.Ptr(temperature)
	}
	return m, nil
}

// Model 返回模型名称
func (m *GeminiChatModel) Model() string { return m.modelName }

// toGeminiContents 系统消息合并为 SystemInstruction，assistant 映射为 model 角色
func toGeminiContents(messages []*schema.Message) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return instruction, contents
}

func (m *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	maxTokens := int(m.maxTokens)
	common := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		MaxTokens:   &maxTokens,
		Model:       &m.modelName,
	}, opts...)

	instruction, contents := toGeminiContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("没有可发送的用户消息")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: instruction,
		Temperature:       common.Temperature,
		ResponseMIMEType:  "application/json",
	}
	if common.MaxTokens != nil && *common.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(*common.MaxTokens)
	}

	modelName := m.modelName
	if common.Model != nil && *common.Model != "" {
		modelName = *common.Model
	}

	resp, err := m.client.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.Code, Body: truncate(apiErr.Message, maxErrorBodyLength)}
		}
		return nil, fmt.Errorf("Gemini 请求失败: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("Gemini 返回了空内容")
	}
	return schema.AssistantMessage(text, nil), nil
}

func (m *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *GeminiChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return nil, ErrToolsUnsupported
}

var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)
