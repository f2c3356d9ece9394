package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cvmatch-go/internal/config"
	"cvmatch-go/internal/logger"
	"cvmatch-go/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// 未配置 llm.qpm 时的默认值
const defaultQPM = 30

// Factory 按任务创建对话模型。同一 provider 的所有任务共享一个令牌桶，
// llm.qpm 因此是该服务商的总配额
type Factory struct {
	cfg *config.Config

	mu      sync.Mutex
	buckets map[string]*ratelimit.TokenBucket
}

// NewFactory 创建模型工厂
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg, buckets: make(map[string]*ratelimit.TokenBucket)}
}

// NewFromConfig 用一次性工厂创建单个模型，多个任务应共用同一个 Factory
func NewFromConfig(ctx context.Context, cfg *config.Config, taskName string) (model.ToolCallingChatModel, error) {
	return NewFactory(cfg).ChatModel(ctx, taskName)
}

// bucket 返回 provider 对应的令牌桶，不存在时创建
func (f *Factory) bucket(provider string) *ratelimit.TokenBucket {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.buckets[provider]; ok {
		return b
	}
	qpm := f.cfg.LLM.QPM
	if qpm <= 0 {
		qpm = defaultQPM
	}
	b := ratelimit.NewTokenBucket(qpm, qpm/2)
	f.buckets[provider] = b
	return b
}

// ChatModel 按配置创建对话模型，并包上限流和重试代理。
// taskName 用于查找 task_models 和 task_max_retries，可以为空
func (f *Factory) ChatModel(ctx context.Context, taskName string) (model.ToolCallingChatModel, error) {
	cfg := f.cfg
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	llmCfg := cfg.LLM
	modelName := llmCfg.Model
	maxRetries := llmCfg.MaxRetries
	if taskName != "" {
		modelName = cfg.GetModelForTask(taskName)
		maxRetries = cfg.GetMaxRetriesForTask(taskName)
	}

	provider := strings.ToLower(strings.TrimSpace(llmCfg.Provider))
	var (
		base model.ToolCallingChatModel
		err  error
	)
	switch provider {
	case "", ProviderOpenAI:
		provider = ProviderOpenAI
		timeout := config.GetDuration(llmCfg.RequestTimeout, 60*time.Second)
		base, err = NewOpenAIChatModel(llmCfg.APIKey, modelName, llmCfg.APIURL,
			WithHTTPClient(&http.Client{Timeout: timeout}),
			WithTemperature(float32(llmCfg.Temperature)),
			WithMaxTokens(llmCfg.MaxTokens),
			WithJSONMode(true),
		)
	case ProviderGemini:
		base, err = NewGeminiChatModel(ctx, llmCfg.APIKey, modelName, float32(llmCfg.Temperature), llmCfg.MaxTokens)
	default:
		return nil, fmt.Errorf("未知的 LLM provider: %q", llmCfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("provider", provider).
		Str("task", taskName).
		Str("model", modelName).
		Int("qpm", llmCfg.QPM).
		Int("max_retries", maxRetries).
		Msg("LLM 模型已创建")

	return ratelimit.NewSharedRateLimitedChatModel(base, f.bucket(provider)).
		WithRetryPolicy(time.Duration(llmCfg.RetryWaitSeconds)*time.Second, maxRetries), nil
}
