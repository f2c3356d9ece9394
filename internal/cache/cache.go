// Package cache 实现按命名空间划分 TTL 的结果缓存。
//
// 缓存只是优化手段：存储层的任何错误都在这里被吸收，Get 退化为未命中，Set 退化为空操作，
// 调用方永远不会看到缓存错误。
package cache

import (
	"context"
	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/storage"
	"cvmatch-go/internal/tracing"
	"cvmatch-go/internal/types"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTTL 未知命名空间使用的TTL
	DefaultTTL = time.Hour

	defaultHitTimeout  = 2 * time.Second
	defaultPingTimeout = 2 * time.Second
)

var tracer = otel.Tracer("cvmatch-go/cache")

// CacheError 与存储层交互失败。只交给错误处理函数，不会从 ResultCache 的方法返回
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// envelope 存储层中保存的条目格式，命中计数器单独存放在 {key}:hits
type envelope struct {
	Value      json.RawMessage `json:"value"`
	TTLSeconds int64           `json:"ttlSeconds"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ResultCache 带命名空间TTL策略的结果缓存，并发安全
type ResultCache struct {
	store      Store
	now        func() time.Time
	log        zerolog.Logger
	onError    func(*CacheError)
	hitTimeout time.Duration

	wg sync.WaitGroup
}

// Option ResultCache 的可选配置
type Option func(*ResultCache)

// WithClock 替换 createdAt 使用的时钟
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// WithLogger 替换默认 logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *ResultCache) { c.log = l }
}

// WithErrorHandler 存储层错误的回调，默认只记录 warn 日志
func WithErrorHandler(fn func(*CacheError)) Option {
	return func(c *ResultCache) { c.onError = fn }
}

// WithHitTimeout 异步更新命中计数的超时时间
func WithHitTimeout(d time.Duration) Option {
	return func(c *ResultCache) { c.hitTimeout = d }
}

// New 创建结果缓存。store 为 nil 时缓存被禁用，所有 Get 都未命中
func New(store Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:      store,
		now:        time.Now,
		log:        logger.Component("cache"),
		hitTimeout: defaultHitTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.onError == nil {
		c.onError = c.logError
	}
	return c
}

func (c *ResultCache) logError(e *CacheError) {
	c.log.Warn().Err(e.Err).Str("op", e.Op).Str("key", e.Key).Msg("缓存操作失败，已忽略")
}

// Namespace 返回 key 的命名空间前缀
func Namespace(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}

// TTLFor 返回 key 所在命名空间的TTL
func TTLFor(key string) time.Duration {
	if ttl := constants.TTLFor(Namespace(key)); ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

func hitsKey(key string) string {
	return key + constants.HitsSuffix
}

func (c *ResultCache) fail(span trace.Span, op, key string, err error) {
	tracing.RecordError(span, err, tracing.ErrorTypeCache)
	c.onError(&CacheError{Op: op, Key: key, Err: err})
}

func (c *ResultCache) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ResultCache."+op, trace.WithAttributes(
		attribute.String("cache.ns", Namespace(key)),
		attribute.String("cache.key", tracing.SafeRedisKey(key)),
	))
}

// load 读取并解码条目，未命中或出错时返回 false
func (c *ResultCache) load(ctx context.Context, span trace.Span, op, key string) (envelope, bool) {
	var env envelope
	if c.store == nil {
		return env, false
	}

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.fail(span, op, key, err)
		}
		return env, false
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.fail(span, op, key, fmt.Errorf("decode entry: %w", err))
		return env, false
	}
	return env, true
}

// Get 读取 key 并解码到 dst。未命中、过期、存储层错误或解码失败时返回 false。
// 命中时异步增加命中计数，TTL 不会被延长。
func (c *ResultCache) Get(ctx context.Context, key string, dst any) bool {
	ctx, span := c.startSpan(ctx, "Get", key)
	defer span.End()

	env, ok := c.load(ctx, span, "get", key)
	if !ok {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return false
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		c.fail(span, "get", key, fmt.Errorf("decode value: %w", err))
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return false
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	c.recordHit(ctx, key)
	return true
}

// recordHit 在后台增加命中计数，失败只记录日志
func (c *ResultCache) recordHit(ctx context.Context, key string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.hitTimeout)
		defer cancel()

		if _, err := c.store.Incr(hctx, hitsKey(key)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.onError(&CacheError{Op: "hit", Key: key, Err: err})
		}
	}()
}

// Set 按命名空间的TTL写入 value
func (c *ResultCache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, TTLFor(key))
}

// SetWithTTL 写入 value 并重置命中计数为 0，已有条目被无条件覆盖。ttl <= 0 时使用 TTLFor(key)
func (c *ResultCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.store == nil {
		return
	}

	// 条目必须有过期时间，非正的 TTL 回退到命名空间策略
	if ttl <= 0 {
		ttl = TTLFor(key)
	}

	ctx, span := c.startSpan(ctx, "Set", key)
	defer span.End()
	span.SetAttributes(attribute.Int64("cache.ttl_seconds", int64(ttl.Seconds())))

	payload, err := json.Marshal(value)
	if err != nil {
		c.fail(span, "set", key, fmt.Errorf("encode value: %w", err))
		return
	}
	data, err := json.Marshal(envelope{
		Value:      payload,
		TTLSeconds: int64(ttl.Seconds()),
		CreatedAt:  c.now().UTC(),
	})
	if err != nil {
		c.fail(span, "set", key, fmt.Errorf("encode entry: %w", err))
		return
	}

	if err := c.store.Set(ctx, key, string(data), ttl); err != nil {
		c.fail(span, "set", key, err)
		return
	}
	if err := c.store.Set(ctx, hitsKey(key), "0", ttl); err != nil {
		c.fail(span, "set", hitsKey(key), err)
	}
}

// Entry 返回条目的元数据 (命中次数、创建时间)，用于诊断。不计为一次命中
func (c *ResultCache) Entry(ctx context.Context, key string) (*types.CacheEntry, bool) {
	ctx, span := c.startSpan(ctx, "Entry", key)
	defer span.End()

	env, ok := c.load(ctx, span, "entry", key)
	if !ok {
		return nil, false
	}

	entry := &types.CacheEntry{
		Key:       key,
		Value:     []byte(env.Value),
		TTL:       time.Duration(env.TTLSeconds) * time.Second,
		CreatedAt: env.CreatedAt,
	}

	raw, err := c.store.Get(ctx, hitsKey(key))
	switch {
	case err == nil:
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			entry.Hits = n
		}
	case !errors.Is(err, storage.ErrNotFound):
		c.fail(span, "entry", hitsKey(key), err)
	}
	return entry, true
}

// TestConnection 存储层存活探测，只用于诊断
func (c *ResultCache) TestConnection(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		c.onError(&CacheError{Op: "ping", Err: err})
		return false
	}
	return true
}

// Wait 等待所有后台命中计数更新完成
func (c *ResultCache) Wait() {
	c.wg.Wait()
}
