package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 未配置 QPM 时的默认值
const defaultQPM = 30

// 默认重试策略，与 NewTokenBucket 一致
const (
	defaultRetryWait  = time.Second
	defaultMaxRetries = 3
)

// RateLimitedChatModel 给任意 ToolCallingChatModel 加上限流和重试。
// 令牌桶可以在多个代理之间共享，重试策略属于代理自身
type RateLimitedChatModel struct {
	original   model.ToolCallingChatModel
	bucket     *TokenBucket
	retryWait  time.Duration
	maxRetries int
}

// NewRateLimitedChatModel 用 qpm 创建独占令牌桶的代理，桶容量为 qpm 的一半以允许少量突发
func NewRateLimitedChatModel(original model.ToolCallingChatModel, qpm int) *RateLimitedChatModel {
	if qpm <= 0 {
		qpm = defaultQPM
	}
	return NewSharedRateLimitedChatModel(original, NewTokenBucket(qpm, qpm/2))
}

// NewSharedRateLimitedChatModel 使用已有的令牌桶，同一服务商的多个模型共享配额
func NewSharedRateLimitedChatModel(original model.ToolCallingChatModel, bucket *TokenBucket) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		original:   original,
		bucket:     bucket,
		retryWait:  defaultRetryWait,
		maxRetries: defaultMaxRetries,
	}
}

// WithRetryPolicy 设置本代理的重试策略，maxRetries 为 0 时不重试
func (rl *RateLimitedChatModel) WithRetryPolicy(wait time.Duration, maxRetries int) *RateLimitedChatModel {
	if wait >= 0 {
		rl.retryWait = wait
	}
	if maxRetries >= 0 {
		rl.maxRetries = maxRetries
	}
	return rl
}

// Bucket 返回代理使用的令牌桶
func (rl *RateLimitedChatModel) Bucket() *TokenBucket {
	return rl.bucket
}

// Unwrap 返回被代理的模型
func (rl *RateLimitedChatModel) Unwrap() model.ToolCallingChatModel {
	return rl.original
}

func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := rl.bucket.RetryWithPolicy(ctx, rl.retryWait, rl.maxRetries, func() error {
		var genErr error
		out, genErr = rl.original.Generate(ctx, messages, opts...)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := rl.bucket.RetryWithPolicy(ctx, rl.retryWait, rl.maxRetries, func() error {
		var streamErr error
		out, streamErr = rl.original.Stream(ctx, messages, opts...)
		return streamErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithTools 绑定工具后的模型与原代理共享同一个令牌桶
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{
		original:   bound,
		bucket:     rl.bucket,
		retryWait:  rl.retryWait,
		maxRetries: rl.maxRetries,
	}, nil
}

var _ model.ToolCallingChatModel = (*RateLimitedChatModel)(nil)
