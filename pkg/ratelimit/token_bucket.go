// Package ratelimit 提供模型调用使用的令牌桶限流和退避重试。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器，按每分钟请求数 (QPM) 补充令牌
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // 每秒补充的令牌数
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time

	retryWait  time.Duration
	maxRetries int
}

// NewTokenBucket 创建令牌桶。capacity <= 0 时取 QPM 的一半，至少为 1
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 60
	}
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}
	return &TokenBucket{
		rate:       float64(qpm) / 60.0,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		now:        time.Now,
		retryWait:  time.Second,
		maxRetries: 3,
	}
}

// WithRetryPolicy 设置首次退避时间和最大重试次数，后续退避按 2 的幂增长
func (tb *TokenBucket) WithRetryPolicy(wait time.Duration, maxRetries int) *TokenBucket {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if wait >= 0 {
		tb.retryWait = wait
	}
	if maxRetries >= 0 {
		tb.maxRetries = maxRetries
	}
	return tb
}

// refill 调用方必须持有锁
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// Allow 非阻塞地尝试取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到取得令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RetryWithBackoff 取令牌后执行 fn，遇到可重试错误时按桶自身的策略指数退避重试
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	tb.mu.Lock()
	maxRetries, base := tb.maxRetries, tb.retryWait
	tb.mu.Unlock()
	return tb.RetryWithPolicy(ctx, base, maxRetries, fn)
}

// RetryWithPolicy 与 RetryWithBackoff 相同，但使用调用方给出的重试策略。
// 共享同一个桶的调用方可以各自决定是否重试。等待期间 ctx 结束时返回包装了 ctx.Err() 的错误
func (tb *TokenBucket) RetryWithPolicy(ctx context.Context, base time.Duration, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if werr := tb.Wait(ctx); werr != nil {
			return abortErr(werr, err)
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == maxRetries {
			return err
		}

		timer := time.NewTimer(base * time.Duration(1<<uint(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return abortErr(ctx.Err(), err)
		case <-timer.C:
		}
	}
	return err
}

// abortErr 以 ctx 错误为主，附带上一次调用的错误
func abortErr(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return fmt.Errorf("重试等待中止: %w (上次错误: %v)", ctxErr, last)
}

// retryable 由错误类型自己声明是否可重试，例如 llm.APIError
type retryable interface {
	Retryable() bool
}

// IsRetryable 判断错误是否值得重试。调用方取消或超时不重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"EOF",
	"429 Too Many Requests",
	"rate limit",
	"no such host",
	"服务器繁忙",
	"请求超过限额",
}
