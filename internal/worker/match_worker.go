// Package worker 通过 RabbitMQ 异步执行匹配：消费匹配请求，发布匹配结果。
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cvmatch-go/internal/config"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/processor"
	"cvmatch-go/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Broker worker 用到的消息队列操作，storage.RabbitMQ 满足该接口
type Broker interface {
	EnsureExchange(exchangeName, exchangeType string, durable bool) error
	EnsureQueue(queueName string, durable bool) error
	BindQueue(queueName, exchangeName, routingKey string) error
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data any, persistent bool) error
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler storage.DeliveryHandler) (<-chan struct{}, error)
}

// MatchWorker 异步匹配 worker
type MatchWorker struct {
	broker      Broker
	matcher     processor.CVMatcher
	weights     *processor.WeightResolver
	suggestions *processor.SuggestionGenerator
	cfg         config.RabbitMQConfig
	retryWait   time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewMatchWorker suggestions 可以为 nil，此时忽略请求中的 suggestions 标志
func NewMatchWorker(broker Broker, matcher processor.CVMatcher, weights *processor.WeightResolver,
	suggestions *processor.SuggestionGenerator, cfg config.RabbitMQConfig) *MatchWorker {
	if weights == nil {
		weights = processor.NewWeightResolver(nil, "")
	}
	return &MatchWorker{
		broker:      broker,
		matcher:     matcher,
		weights:     weights,
		suggestions: suggestions,
		cfg:         cfg,
		retryWait:   config.GetDuration(cfg.RetryInterval, 5*time.Second),
		now:         time.Now,
		log:         logger.Component("match_worker"),
	}
}

// SetupTopology 声明交换机、请求队列并绑定
func (w *MatchWorker) SetupTopology() error {
	if err := w.broker.EnsureExchange(w.cfg.MatchExchange, "direct", true); err != nil {
		return fmt.Errorf("确保交换机存在失败: %w", err)
	}
	if err := w.broker.EnsureQueue(w.cfg.MatchRequestQueue, true); err != nil {
		return fmt.Errorf("确保队列存在失败: %w", err)
	}
	if err := w.broker.BindQueue(w.cfg.MatchRequestQueue, w.cfg.MatchExchange, w.cfg.MatchRequestRoutingKey); err != nil {
		return fmt.Errorf("绑定队列失败: %w", err)
	}
	return nil
}

// Submit 发布一条匹配请求，返回请求 ID
func (w *MatchWorker) Submit(ctx context.Context, msg storage.MatchRequestMessage) (string, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	if msg.SubmittedAt.IsZero() {
		msg.SubmittedAt = w.now()
	}
	if err := w.broker.PublishJSON(ctx, w.cfg.MatchExchange, w.cfg.MatchRequestRoutingKey, msg, true); err != nil {
		return "", fmt.Errorf("发布匹配请求失败: %w", err)
	}
	return msg.RequestID, nil
}

// Start 启动 cfg.Workers 个消费者，返回的通道在全部消费者退出后关闭
func (w *MatchWorker) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := w.SetupTopology(); err != nil {
		return nil, err
	}

	workers := w.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		done, err := w.broker.StartConsumer(ctx, w.cfg.MatchRequestQueue, w.cfg.PrefetchCount, w.Handle)
		if err != nil {
			return nil, fmt.Errorf("启动第 %d 个消费者失败: %w", i+1, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()

	w.log.Info().
		Int("workers", workers).
		Str("queue", w.cfg.MatchRequestQueue).
		Msg("匹配 worker 已启动")
	return all, nil
}

// Handle 处理一条投递。无法解析的消息直接丢弃，结果发布失败时重新入队
func (w *MatchWorker) Handle(ctx context.Context, body []byte) (ack bool, requeue bool) {
	var msg storage.MatchRequestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.log.Error().Err(err).Int("size", len(body)).Msg("解析匹配请求失败，丢弃消息")
		return false, false
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	result := w.Process(ctx, msg)

	if result.Status == StatusFailed && result.ErrorKind == storage.ErrorKindExtraction && msg.Attempt < w.cfg.MaxRetries {
		if err := w.retry(ctx, msg); err != nil {
			w.log.Warn().Err(err).Str("request_id", msg.RequestID).Msg("重新投递失败，消息重新入队")
			return false, true
		}
		return true, false
	}

	if err := w.broker.PublishJSON(ctx, w.cfg.MatchExchange, w.cfg.MatchResultRoutingKey, result, true); err != nil {
		w.log.Error().Err(err).Str("request_id", msg.RequestID).Msg("发布匹配结果失败")
		return false, true
	}
	return true, false
}

// retry 等待 retryWait 后以 Attempt+1 重新发布请求
func (w *MatchWorker) retry(ctx context.Context, msg storage.MatchRequestMessage) error {
	msg.Attempt++
	w.log.Info().
		Str("request_id", msg.RequestID).
		Int("attempt", msg.Attempt).
		Dur("wait", w.retryWait).
		Msg("抽取失败，稍后重试")

	timer := time.NewTimer(w.retryWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return w.broker.PublishJSON(ctx, w.cfg.MatchExchange, w.cfg.MatchRequestRoutingKey, msg, true)
}

// Process 执行一次匹配并构造结果消息，本身不发布消息
func (w *MatchWorker) Process(ctx context.Context, msg storage.MatchRequestMessage) storage.MatchResultMessage {
	start := w.now()
	out := storage.MatchResultMessage{RequestID: msg.RequestID}
	finish := func(err error) storage.MatchResultMessage {
		out.CompletedAt = w.now()
		out.DurationMS = out.CompletedAt.Sub(start).Milliseconds()
		if err != nil {
			out.Status = StatusFailed
			out.ErrorKind = errorKind(err)
			out.Error = err.Error()
			out.Result = nil
			out.Suggestions = nil
			return out
		}
		out.Status = StatusCompleted
		return out
	}

	weights, err := w.weights.Resolve(msg.Profile, msg.Weights)
	if err != nil {
		return finish(err)
	}

	result, err := w.matcher.MatchCvToJob(ctx, msg.CVText, msg.JobText, weights)
	if err != nil {
		return finish(err)
	}
	out.Result = result

	if msg.Suggestions && w.suggestions != nil {
		suggestions, err := w.suggestions.Generate(ctx, msg.CVText, msg.JobText, result)
		if err != nil {
			return finish(err)
		}
		out.Suggestions = suggestions
	}
	return finish(nil)
}

func errorKind(err error) string {
	switch {
	case processor.IsValidationError(err):
		return storage.ErrorKindValidation
	case processor.IsExtractionError(err), errors.Is(err, context.DeadlineExceeded):
		return storage.ErrorKindExtraction
	default:
		return storage.ErrorKindInternal
	}
}
