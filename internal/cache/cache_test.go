package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// failingStore 每次调用都返回错误
type failingStore struct {
	calls atomic.Int64
}

var errStoreDown = errors.New("connection refused")

func (f *failingStore) Get(context.Context, string) (string, error) {
	f.calls.Add(1)
	return "", errStoreDown
}

func (f *failingStore) Set(context.Context, string, string, time.Duration) error {
	f.calls.Add(1)
	return errStoreDown
}

func (f *failingStore) Incr(context.Context, string) (int64, error) {
	f.calls.Add(1)
	return 0, errStoreDown
}

func (f *failingStore) Ping(context.Context) error {
	f.calls.Add(1)
	return errStoreDown
}

// incrFailingStore 读写正常，只有命中计数失败
type incrFailingStore struct {
	*MemoryStore
}

func (s incrFailingStore) Incr(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

func newTestCache(t *testing.T) (*ResultCache, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	c := New(store, WithClock(clock.Now))
	t.Cleanup(c.Wait)
	return c, store, clock
}

func sampleFeatures() types.FeatureSet {
	return types.FeatureSet{
		HardSkills: []types.Skill{{Name: "Go"}, {Name: "Redis"}},
		SoftSkills: []types.Skill{{Name: "Rigueur"}},
		Experience: types.Experience{TotalYears: 4.5},
		Education:  types.Education{Level: "Bac+5"},
		Culture:    types.Culture{Values: []string{"Innovation"}},
	}
}

func TestSetThenGet(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceEmbedding, "Développeur Go senior")

	want := sampleFeatures()
	c.Set(ctx, key, want)

	var got types.FeatureSet
	require.True(t, c.Get(ctx, key, &got))
	assert.Equal(t, want, got)
}

func TestGetUnsetKeyMisses(t *testing.T) {
	c, _, _ := newTestCache(t)
	var got types.FeatureSet
	assert.False(t, c.Get(context.Background(), hashing.Key(constants.NamespaceEmbedding, "absent"), &got))
}

func TestGetAfterTTLMisses(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceAnalysis, "cv+job")

	c.Set(ctx, key, map[string]int{"score": 1})

	clock.Advance(constants.AnalysisCacheTTL - time.Second)
	var v map[string]int
	require.True(t, c.Get(ctx, key, &v))

	clock.Advance(time.Second)
	assert.False(t, c.Get(ctx, key, &v), "到达TTL后条目过期")
}

func TestNamespaceTTLs(t *testing.T) {
	cases := map[string]time.Duration{
		constants.NamespaceEmbedding:   24 * time.Hour,
		constants.NamespaceEquivalence: 7 * 24 * time.Hour,
		constants.NamespaceAnalysis:    time.Hour,
		constants.NamespaceFrench:      30 * 24 * time.Hour,
		constants.NamespaceSuggestions: 2 * time.Hour,
		"unknown":                      DefaultTTL,
	}
	for ns, want := range cases {
		assert.Equal(t, want, TTLFor(hashing.Key(ns, "x")), ns)
	}
	assert.Equal(t, 7*24*time.Hour, TTLFor(hashing.PairKey(constants.NamespaceEquivalence, "a", "b")))
}

func TestHitsDoNotExtendTTL(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceSuggestions, "pair")

	c.Set(ctx, key, []string{"a"})

	var v []string
	for i := 0; i < 3; i++ {
		clock.Advance(30 * time.Minute)
		require.True(t, c.Get(ctx, key, &v))
	}
	c.Wait()

	entry, ok := c.Entry(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(3), entry.Hits)
	assert.Equal(t, constants.SuggestionsCacheTTL, entry.TTL)

	clock.Advance(30 * time.Minute)
	assert.False(t, c.Get(ctx, key, &v), "命中不会延长TTL")
}

func TestSetResetsHitsAndCreatedAt(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceFrench, "master 2")

	c.Set(ctx, key, "Bac+5")
	var v string
	require.True(t, c.Get(ctx, key, &v))
	c.Wait()

	first, ok := c.Entry(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.Hits)

	clock.Advance(time.Minute)
	c.Set(ctx, key, "Bac+5 (RNCP 7)")

	second, ok := c.Entry(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(0), second.Hits)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	require.True(t, c.Get(ctx, key, &v))
	assert.Equal(t, "Bac+5 (RNCP 7)", v, "覆盖写入不合并")
}

func TestWriteAfterExpiryCreatesNewEntry(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceAnalysis, "doc")

	c.Set(ctx, key, 1)
	first, _ := c.Entry(ctx, key)

	clock.Advance(2 * time.Hour)
	_, ok := c.Entry(ctx, key)
	require.False(t, ok)

	c.Set(ctx, key, 2)
	second, ok := c.Entry(ctx, key)
	require.True(t, ok)
	assert.Equal(t, first.CreatedAt.Add(2*time.Hour), second.CreatedAt)
}

func TestFailingStoreIsAbsorbed(t *testing.T) {
	store := &failingStore{}
	var mu sync.Mutex
	var errs []*CacheError
	c := New(store, WithErrorHandler(func(e *CacheError) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, e)
	}))
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceEmbedding, "cv")

	assert.NotPanics(t, func() { c.Set(ctx, key, sampleFeatures()) })

	var got types.FeatureSet
	for i := 0; i < 5; i++ {
		assert.False(t, c.Get(ctx, key, &got))
	}
	_, ok := c.Entry(ctx, key)
	assert.False(t, ok)
	assert.False(t, c.TestConnection(ctx))
	c.Wait()

	assert.Positive(t, store.calls.Load())
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, errs)
	for _, e := range errs {
		assert.ErrorIs(t, e, errStoreDown)
	}
}

func TestHitCounterFailureDoesNotFailGet(t *testing.T) {
	mem := NewMemoryStore()
	var failures atomic.Int64
	c := New(incrFailingStore{mem}, WithErrorHandler(func(*CacheError) { failures.Add(1) }))
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceEquivalence, "a")

	c.Set(ctx, key, true)
	var v bool
	require.True(t, c.Get(ctx, key, &v))
	assert.True(t, v)

	c.Wait()
	assert.Equal(t, int64(1), failures.Load())
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceEmbedding, "bad")

	require.NoError(t, store.Set(ctx, key, "{not json", time.Hour))
	var v types.FeatureSet
	assert.False(t, c.Get(ctx, key, &v))

	c.Set(ctx, key, "a string")
	assert.False(t, c.Get(ctx, key, &v), "类型不匹配视为未命中")
}

func TestDisabledCache(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	c.Set(ctx, "emb:x", 1)
	var v int
	assert.False(t, c.Get(ctx, "emb:x", &v))
	assert.False(t, c.TestConnection(ctx))
}

func TestTestConnection(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.True(t, c.TestConnection(context.Background()))
}

func TestGetSurvivesCanceledContextForHits(t *testing.T) {
	c, _, _ := newTestCache(t)
	key := hashing.Key(constants.NamespaceEmbedding, "doc")
	c.Set(context.Background(), key, 42)

	ctx, cancel := context.WithCancel(context.Background())
	var v int
	require.True(t, c.Get(ctx, key, &v))
	cancel()
	c.Wait()

	entry, ok := c.Entry(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.Hits)
}

func TestConcurrentAccess(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	key := hashing.Key(constants.NamespaceEmbedding, "shared")
	c.Set(ctx, key, sampleFeatures())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var v types.FeatureSet
			assert.True(t, c.Get(ctx, key, &v))
		}()
	}
	wg.Wait()
	c.Wait()

	entry, ok := c.Entry(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(20), entry.Hits)
}

func TestMemoryStoreIncr(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithMemoryClock(clock.Now))
	ctx := context.Background()

	_, err := s.Incr(ctx, "missing")
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len(), "Incr 不会创建 key")

	require.NoError(t, s.Set(ctx, "n", "0", time.Minute))
	n, err := s.Incr(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(time.Minute)
	_, err = s.Incr(ctx, "n")
	assert.Error(t, err)
	assert.Empty(t, s.Keys())
}

// rawLen 返回存储表的实际大小，包括尚未删除的过期条目
func rawLen(m *MemoryStore) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func TestSetSweepsExpiredEntries(t *testing.T) {
	c, store, clock := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		c.Set(ctx, hashing.Key(constants.NamespaceAnalysis, fmt.Sprintf("paire-%d", i)), i)
	}
	require.Equal(t, 2000, rawLen(store), "每个条目带一个命中计数器")

	clock.Advance(48 * time.Hour)
	for i := 0; i < 10; i++ {
		c.Set(ctx, hashing.Key(constants.NamespaceEmbedding, fmt.Sprintf("doc-%d", i)), i)
	}
	assert.Equal(t, 20, rawLen(store), "过期的 analysis 条目和计数器都被清理")
}

func TestSetSweepRespectsInterval(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now), WithSweepInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "emb:a", "1", time.Minute))
	clock.Advance(2 * time.Minute)
	require.NoError(t, store.Set(ctx, "emb:b", "1", time.Minute))
	assert.Equal(t, 2, rawLen(store), "距上次清理不足一个间隔")

	clock.Advance(time.Hour)
	require.NoError(t, store.Set(ctx, "emb:c", "1", time.Minute))
	assert.Equal(t, 1, rawLen(store))
}

func TestJanitorSweepsWithoutWrites(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("suggestions:%d", i), "x", time.Hour))
	}
	require.NoError(t, store.Set(ctx, "emb:long", "x", 48*time.Hour))
	clock.Advance(2 * time.Hour)

	store.StartJanitor(time.Millisecond)
	assert.Eventually(t, func() bool { return rawLen(store) == 1 }, time.Second, 5*time.Millisecond)

	store.Close()
	store.Close()
}

func TestSweepReturnsRemovedCount(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "emb:a", "1", time.Minute))
	require.NoError(t, store.Set(ctx, "emb:b", "1", time.Hour))
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Sweep())
	store.Close()
}

func TestSetWithNonPositiveTTLUsesNamespacePolicy(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	analysis := hashing.Key(constants.NamespaceAnalysis, "cv+job")
	unknown := "divers:cle"

	c.SetWithTTL(ctx, analysis, 1, 0)
	c.SetWithTTL(ctx, unknown, 2, -time.Second)

	var v int
	clock.Advance(constants.AnalysisCacheTTL - time.Second)
	require.True(t, c.Get(ctx, analysis, &v))
	require.True(t, c.Get(ctx, unknown, &v))

	clock.Advance(time.Second)
	assert.False(t, c.Get(ctx, analysis, &v), "TTL 为 0 时不会永久保存")
	assert.False(t, c.Get(ctx, unknown, &v), "未知命名空间回退到 DefaultTTL")
}
