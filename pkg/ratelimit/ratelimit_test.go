package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) Retryable() bool { return e.code == 429 || e.code >= 500 }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestAllowRespectsCapacity(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	frozen := time.Now()
	tb.now = func() time.Time { return frozen }
	tb.lastRefill = frozen

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "桶已空")

	frozen = frozen.Add(time.Second)
	assert.True(t, tb.Allow(), "一秒补充一个令牌")
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", statusErr{429}, true},
		{"503 wrapped", fmt.Errorf("call: %w", statusErr{503}), true},
		{"400", statusErr{400}, false},
		{"net timeout", timeoutErr{}, true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"plain", errors.New("invalid json"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestRetryWithBackoffRetriesTransientErrors(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 3)
	var calls atomic.Int32

	err := tb.RetryWithBackoff(context.Background(), func() error {
		if calls.Add(1) < 3 {
			return statusErr{503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 3)
	var calls atomic.Int32

	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls.Add(1)
		return statusErr{401}
	})
	assert.Equal(t, statusErr{401}, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryWithBackoffGivesUpAfterMaxRetries(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 2)
	var calls atomic.Int32

	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls.Add(1)
		return statusErr{429}
	})
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

type flakyModel struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, statusErr{500}
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (f *flakyModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *flakyModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestRateLimitedChatModelRetries(t *testing.T) {
	inner := &flakyModel{failures: 2}
	m := NewRateLimitedChatModel(inner, 6000).WithRetryPolicy(time.Millisecond, 3)

	out, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, int32(3), inner.calls.Load())

	bound, err := m.WithTools(nil)
	require.NoError(t, err)
	limited, ok := bound.(*RateLimitedChatModel)
	require.True(t, ok)
	assert.Same(t, m.bucket, limited.bucket)
	assert.Same(t, inner, m.Unwrap())
}

func TestRetryWithBackoffReturnsContextErrorDuringBackoff(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Second, 3)
	var calls atomic.Int32

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.RetryWithBackoff(ctx, func() error {
		calls.Add(1)
		return statusErr{503}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "退避中超时应报告 ctx 错误")
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSharedBucketAcrossProxies(t *testing.T) {
	bucket := NewTokenBucket(60, 2)
	frozen := time.Now()
	bucket.now = func() time.Time { return frozen }
	bucket.lastRefill = frozen

	extract := NewSharedRateLimitedChatModel(&flakyModel{}, bucket)
	suggest := NewSharedRateLimitedChatModel(&flakyModel{}, bucket)
	msgs := []*schema.Message{schema.UserMessage("hi")}

	_, err := extract.Generate(context.Background(), msgs)
	require.NoError(t, err)
	_, err = suggest.Generate(context.Background(), msgs)
	require.NoError(t, err)

	assert.Same(t, extract.Bucket(), suggest.Bucket())
	assert.False(t, bucket.Allow(), "两个代理消耗的是同一份配额")
}

func TestRetryPolicyIsPerProxy(t *testing.T) {
	bucket := NewTokenBucket(6000, 100)
	msgs := []*schema.Message{schema.UserMessage("hi")}

	noRetry := &flakyModel{failures: 1}
	_, err := NewSharedRateLimitedChatModel(noRetry, bucket).
		WithRetryPolicy(time.Millisecond, 0).
		Generate(context.Background(), msgs)
	assert.Equal(t, statusErr{500}, err)
	assert.Equal(t, int32(1), noRetry.calls.Load())

	withRetry := &flakyModel{failures: 1}
	out, err := NewSharedRateLimitedChatModel(withRetry, bucket).
		WithRetryPolicy(time.Millisecond, 3).
		Generate(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, int32(2), withRetry.calls.Load())
}
