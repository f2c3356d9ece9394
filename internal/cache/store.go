package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cvmatch-go/internal/storage"
)

// Store 结果缓存依赖的键值存储。命名空间前缀由 ResultCache 负责，Store 只看到完整的 key。
// 未命中时 Get 和 Incr 返回 storage.ErrNotFound。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Incr 对已存在的计数器加一，不创建 key，也不延长 TTL
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}

var _ Store = (*storage.Redis)(nil)
var _ Store = (*MemoryStore)(nil)

type memItem struct {
	value     string
	expiresAt time.Time // 零值表示不过期
}

// DefaultSweepInterval 两次过期清理之间的最小间隔
const DefaultSweepInterval = time.Minute

// MemoryStore 进程内的 Store 实现，未配置 Redis 时使用。
// 过期条目在访问时删除，Set 每隔 sweepInterval 顺带清理一次整张表，
// StartJanitor 可以在没有写入时定期清理
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time

	sweepInterval time.Duration
	lastSweep     time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// MemoryOption MemoryStore 的可选配置
type MemoryOption func(*MemoryStore)

// WithMemoryClock 替换时钟，测试中用来模拟时间流逝
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// WithSweepInterval 设置 Set 触发清理的最小间隔
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// NewMemoryStore 创建空的进程内存储
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		items:         make(map[string]memItem),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	return m
}

// StartJanitor 启动后台协程，每隔 interval 清理过期条目，Close 停止它。只能调用一次
func (m *MemoryStore) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = m.sweepInterval
	}
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Close 停止后台清理协程，可重复调用
func (m *MemoryStore) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.done != nil {
		<-m.done
	}
}

// Sweep 删除所有已过期的条目，返回删除的数量
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// sweepLocked 调用方必须持有锁
func (m *MemoryStore) sweepLocked() int {
	now := m.now()
	removed := 0
	for key, item := range m.items {
		if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
			delete(m.items, key)
			removed++
		}
	}
	m.lastSweep = now
	return removed
}

// lookup 调用方必须持有锁
func (m *MemoryStore) lookup(key string) (memItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return memItem{}, false
	}
	return item, true
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.lookup(key)
	if !ok {
		return "", storage.ErrNotFound
	}
	return item.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	item := memItem{value: value}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	m.items[key] = item
	if now.Sub(m.lastSweep) >= m.sweepInterval {
		m.sweepLocked()
	}
	return nil
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.lookup(key)
	if !ok {
		return 0, storage.ErrNotFound
	}
	n, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	item.value = strconv.FormatInt(n, 10)
	m.items[key] = item
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len 返回未过期的条目数
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.items {
		if _, ok := m.lookup(key); ok {
			n++
		}
	}
	return n
}

// Keys 返回未过期的 key，顺序不固定
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		if _, ok := m.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}
