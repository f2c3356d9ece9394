package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/tracing"
	"cvmatch-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// 文档进入 prompt 前的最大字符数
const defaultMaxInputRunes = 24000

var (
	// ErrMalformedOutput 模型输出不是预期结构的 JSON
	ErrMalformedOutput = errors.New("模型输出格式错误")
	// ErrEmptyOutput 模型返回空内容
	ErrEmptyOutput = errors.New("模型返回空内容")
)

var extractorTracer = otel.Tracer("cvmatch-go/parser")

// featureSetSchema 约束模型输出的 JSON 结构。技能既可以是字符串也可以是 {"name": ...}
const featureSetSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["hardSkills", "softSkills", "experience", "education", "culture"],
  "definitions": {
    "skill": {
      "oneOf": [
        {"type": "string"},
        {"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}
      ]
    }
  },
  "properties": {
    "hardSkills": {"type": "array", "items": {"$ref": "#/definitions/skill"}},
    "softSkills": {"type": "array", "items": {"$ref": "#/definitions/skill"}},
    "experience": {
      "type": "object",
      "required": ["totalYears"],
      "properties": {"totalYears": {"type": "number", "minimum": 0}}
    },
    "education": {
      "type": "object",
      "properties": {"level": {"type": ["string", "null"]}}
    },
    "culture": {
      "type": "object",
      "properties": {"values": {"type": ["array", "null"], "items": {"type": "string"}}}
    }
  }
}`

var compiledFeatureSchema = CompileSchema(featureSetSchema)

// LLMFeatureExtractor 通过对话模型把简历或岗位文本转换为 FeatureSet
type LLMFeatureExtractor struct {
	llm           model.ToolCallingChatModel
	log           zerolog.Logger
	maxInputRunes int
	prompts       map[types.Role]string
}

// ExtractorOption LLMFeatureExtractor 的可选配置
type ExtractorOption func(*LLMFeatureExtractor)

// WithExtractorLogger 替换默认 logger
func WithExtractorLogger(l zerolog.Logger) ExtractorOption {
	return func(e *LLMFeatureExtractor) { e.log = l }
}

// WithMaxInputRunes 超过该长度的文档被截断后再发送
func WithMaxInputRunes(n int) ExtractorOption {
	return func(e *LLMFeatureExtractor) {
		if n > 0 {
			e.maxInputRunes = n
		}
	}
}

// WithRolePrompt 替换某个角色的系统提示词
func WithRolePrompt(role types.Role, prompt string) ExtractorOption {
	return func(e *LLMFeatureExtractor) { e.prompts[role] = prompt }
}

// NewLLMFeatureExtractor 创建特征抽取器
func NewLLMFeatureExtractor(llm model.ToolCallingChatModel, opts ...ExtractorOption) *LLMFeatureExtractor {
	e := &LLMFeatureExtractor{
		llm:           llm,
		log:           logger.Component("extractor"),
		maxInputRunes: defaultMaxInputRunes,
		prompts: map[types.Role]string{
			types.RoleCV:  cvSystemPrompt,
			types.RoleJob: jobSystemPrompt,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 抽取单个文档的特征。模型调用失败或输出无法解析时返回错误，不返回部分结果
func (e *LLMFeatureExtractor) Extract(ctx context.Context, text string, role types.Role) (types.FeatureSet, error) {
	if e.llm == nil {
		return types.FeatureSet{}, fmt.Errorf("特征抽取器未配置模型")
	}
	if !role.Valid() {
		return types.FeatureSet{}, fmt.Errorf("未知的文档角色: %q", role)
	}

	ctx, span := extractorTracer.Start(ctx, "FeatureExtractor.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("extract.role", string(role)),
		attribute.Int("extract.input_runes", len([]rune(text))),
	)
	// 简历含个人信息，只记录岗位文本的预览
	if role == types.RoleJob {
		span.SetAttributes(attribute.String("extract.job_preview", tracing.SafeDocument(text)))
	}

	messages := []*schema.Message{
		schema.SystemMessage(e.prompts[role]),
		schema.UserMessage(buildUserPrompt(role, truncateRunes(text, e.maxInputRunes))),
	}

	start := time.Now()
	resp, err := e.llm.Generate(ctx, messages, model.WithTemperature(0))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return types.FeatureSet{}, fmt.Errorf("调用模型失败: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		tracing.RecordError(span, ErrEmptyOutput, tracing.ErrorTypeExtraction)
		return types.FeatureSet{}, ErrEmptyOutput
	}

	fs, err := ParseFeatureSet(resp.Content)
	if err != nil {
		e.log.Warn().Err(err).
			Str("role", string(role)).
			Str("output", tracing.TruncateString(resp.Content, 300)).
			Msg("模型输出无法解析为 FeatureSet")
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		return types.FeatureSet{}, err
	}

	e.log.Debug().
		Str("role", string(role)).
		Int("hard_skills", len(fs.HardSkills)).
		Int("soft_skills", len(fs.SoftSkills)).
		Float64("years", fs.Experience.TotalYears).
		Dur("duration", time.Since(start)).
		Msg("特征抽取完成")
	return fs, nil
}

// rawFeatureSet 技能字段保持原始 JSON，再由 normalizeSkills 统一形状
type rawFeatureSet struct {
	HardSkills []json.RawMessage `json:"hardSkills"`
	SoftSkills []json.RawMessage `json:"softSkills"`
	Experience types.Experience  `json:"experience"`
	Education  struct {
		Level *string `json:"level"`
	} `json:"education"`
	Culture struct {
		Values []string `json:"values"`
	} `json:"culture"`
}

// ParseFeatureSet 把模型输出解析为 FeatureSet。
// 会去掉 BOM 和代码块包裹，修复字符串内未转义的引号，并按 JSON Schema 校验结构
func ParseFeatureSet(content string) (types.FeatureSet, error) {
	var raw rawFeatureSet
	if err := DecodeModelJSON(content, compiledFeatureSchema, &raw); err != nil {
		return types.FeatureSet{}, err
	}

	fs := types.FeatureSet{
		HardSkills: normalizeSkills(raw.HardSkills),
		SoftSkills: normalizeSkills(raw.SoftSkills),
		Experience: raw.Experience,
		Culture:    types.Culture{Values: nonEmpty(raw.Culture.Values)},
	}
	if raw.Education.Level != nil {
		fs.Education.Level = strings.TrimSpace(*raw.Education.Level)
	}
	return fs, nil
}

// normalizeSkills 接受 "Go" 或 {"name": "Go"} 两种形状，丢弃空名称
func normalizeSkills(items []json.RawMessage) []types.Skill {
	skills := make([]types.Skill, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err != nil {
			var obj types.Skill
			if err := json.Unmarshal(item, &obj); err != nil {
				continue
			}
			name = obj.Name
		}
		if name = strings.TrimSpace(name); name != "" {
			skills = append(skills, types.Skill{Name: name})
		}
	}
	return skills
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
