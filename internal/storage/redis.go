package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cvmatch-go/internal/config"
	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound key 不存在或已过期
var ErrNotFound = errors.New("storage: key not found")

var redisTracer = otel.Tracer("cvmatch-go/storage/redis")

// 按命名空间前缀的 span 采样率，redisotel 已经记录了每条命令
var redisKeySamplingRates = map[string]float64{
	constants.NamespaceEmbedding + ":":   0.05,
	constants.NamespaceEquivalence + ":": 0.1,
	constants.NamespaceAnalysis + ":":    0.05,
	constants.NamespaceFrench + ":":      0.1,
	constants.NamespaceSuggestions + ":": 0.1,
}

var (
	rnd      = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMutex sync.Mutex
)

func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return randFloat() < rate
		}
	}
	return randFloat() < 0.05
}

func randFloat() float64 {
	rndMutex.Lock()
	defer rndMutex.Unlock()
	return rnd.Float64()
}

// incrExistingScript 只对已存在的 key 执行 INCR，INCR 不会改变 key 的剩余 TTL
var incrExistingScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('INCR', KEYS[1])
end
return -1
`)

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建 Redis 客户端并检查连通性
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return NewRedisFromClient(client, cfg), nil
}

// NewRedisFromClient 包装一个已有的客户端，不做连通性检查
func NewRedisFromClient(client *redis.Client, cfg *config.RedisConfig) *Redis {
	if cfg == nil {
		cfg = &config.RedisConfig{}
	}
	return &Redis{Client: client, config: cfg}
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	if !shouldSampleRedisOp(key) {
		return ctx, nil
	}
	ctx, span := redisTracer.Start(ctx, "Redis."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", strings.ToUpper(op)),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		attribute.Int("db.redis.database", r.config.DB),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Get 获取键的值，key 不存在时返回 ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}

	ctx, span := r.startSpan(ctx, "Get", key)
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		if span != nil {
			span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
		}
		endSpan(span, nil)
		return "", ErrNotFound
	}
	if span != nil && err == nil {
		span.SetAttributes(
			attribute.Bool("db.redis.key_exists", true),
			attribute.Int("db.redis.value_length", len(val)),
		)
	}
	endSpan(span, err)
	return val, err
}

// Set 设置键的值，expiration 为 0 表示不过期
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	ctx, span := r.startSpan(ctx, "Set", key)
	if span != nil {
		span.SetAttributes(
			attribute.Int("db.redis.value_length", len(value)),
			attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()),
		)
	}
	err := r.Client.Set(ctx, key, value, expiration).Err()
	endSpan(span, err)
	return err
}

// Incr 对已存在的计数器加一并返回新值。key 不存在时返回 ErrNotFound 且不会创建 key，剩余 TTL 保持不变
func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	if r.Client == nil {
		return 0, fmt.Errorf("redis客户端未初始化")
	}

	ctx, span := r.startSpan(ctx, "Incr", key)
	n, err := incrExistingScript.Run(ctx, r.Client, []string{key}).Int64()
	if err == nil && n < 0 {
		endSpan(span, nil)
		return 0, ErrNotFound
	}
	endSpan(span, err)
	return n, err
}
