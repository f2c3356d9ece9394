package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cvmatch-go/internal/cache"
	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/scoring"
	"cvmatch-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cvText  = "Développeuse full-stack avec six ans d'expérience sur React, Node.js et PostgreSQL. Master informatique."
	jobText = "Nous recherchons un développeur React / Express avec au moins trois ans d'expérience et un Bac+5."
)

func cvFeatures() types.FeatureSet {
	return types.FeatureSet{
		HardSkills: []types.Skill{{Name: "React"}, {Name: "Node.js"}, {Name: "PostgreSQL"}},
		SoftSkills: []types.Skill{{Name: "Autonomie"}},
		Experience: types.Experience{TotalYears: 6},
		Education:  types.Education{Level: "Bac+5"},
		Culture:    types.Culture{Values: []string{"Innovation"}},
	}
}

func jobFeatures() types.FeatureSet {
	return types.FeatureSet{
		HardSkills: []types.Skill{{Name: "react"}, {Name: "express"}},
		SoftSkills: []types.Skill{{Name: "autonomie"}},
		Experience: types.Experience{TotalYears: 3},
		Education:  types.Education{Level: "Bac+5"},
		Culture:    types.Culture{Values: []string{"innovation"}},
	}
}

// countingExtractor 按角色返回固定特征并记录调用次数
type countingExtractor struct {
	calls atomic.Int32
	mu    sync.Mutex
	roles []types.Role
	delay map[types.Role]time.Duration
	fail  map[types.Role]error
}

func newCountingExtractor() *countingExtractor {
	return &countingExtractor{delay: map[types.Role]time.Duration{}, fail: map[types.Role]error{}}
}

func (c *countingExtractor) Extract(ctx context.Context, _ string, role types.Role) (types.FeatureSet, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.roles = append(c.roles, role)
	delay, err := c.delay[role], c.fail[role]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return types.FeatureSet{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return types.FeatureSet{}, err
	}
	if role == types.RoleCV {
		return cvFeatures(), nil
	}
	return jobFeatures(), nil
}

func newMemCache(t *testing.T) (*cache.ResultCache, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	c := cache.New(store)
	t.Cleanup(c.Wait)
	return c, store
}

func TestMatchCvToJob(t *testing.T) {
	ex := newCountingExtractor()
	m := NewMatcher(ex)

	res, err := m.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.Breakdown.Technical, 1e-9, "React 匹配，Express 不匹配")
	assert.Equal(t, 1.0, res.Breakdown.Experience)
	assert.Equal(t, 1.0, res.Breakdown.Education)
	assert.Equal(t, 1.0, res.Breakdown.SoftSkills)
	assert.Equal(t, 1.0, res.Breakdown.Cultural)

	want := scoring.Score(cvFeatures(), jobFeatures(), scoring.DefaultWeights)
	assert.Equal(t, want.OverallScore, res.OverallScore)
	assert.Equal(t, want.MatchLevel, res.MatchLevel)
	assert.NotEmpty(t, res.Strengths)
	assert.Len(t, res.NextSteps, 4)
	assert.Equal(t, 1.0, res.Authenticity.GlobalScore)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestMatchAttributesResultsByRole(t *testing.T) {
	ex := newCountingExtractor()
	// 岗位抽取先完成
	ex.delay[types.RoleCV] = 30 * time.Millisecond
	m := NewMatcher(ex)

	res, err := m.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Breakdown.Technical, 1e-9)
	assert.Equal(t, 1.0, res.Breakdown.Experience, "cv 6 年 / job 3 年")
}

// Scenario D: 两段文本都只有 49 个字符，抽取器从未被调用
func TestMatchRejectsShortTextsBeforeExtraction(t *testing.T) {
	ex := newCountingExtractor()
	m := NewMatcher(ex)

	short := strings.Repeat("a", 49)
	res, err := m.MatchCvToJob(context.Background(), short, short, scoring.DefaultWeights)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.True(t, IsValidationError(err))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "cvText", verr.Field)
	assert.Equal(t, int32(0), ex.calls.Load())
}

func TestMatchLengthCountsRunesWithoutTrimming(t *testing.T) {
	m := NewMatcher(newCountingExtractor())

	accented := strings.Repeat("é", 50)
	assert.NoError(t, m.Validate(accented, accented, scoring.DefaultWeights))

	padded := strings.Repeat(" ", 45) + "abcde"
	assert.NoError(t, m.Validate(padded, padded, scoring.DefaultWeights), "空白也计入长度")

	err := m.Validate(jobText, strings.Repeat("x", 10), scoring.DefaultWeights)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "jobText", verr.Field)
}

func TestMatchRejectsInvalidWeights(t *testing.T) {
	ex := newCountingExtractor()
	m := NewMatcher(ex)

	_, err := m.MatchCvToJob(context.Background(), cvText, jobText, types.WeightConfig{Technical: 0.9, Experience: 0.5})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, int32(0), ex.calls.Load())
}

func TestMatchExtractionFailure(t *testing.T) {
	ex := newCountingExtractor()
	upstream := errors.New("LLM API 请求失败，状态 500")
	ex.fail[types.RoleJob] = upstream
	m := NewMatcher(ex)

	res, err := m.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.ErrorIs(t, err, upstream)

	var eerr *ExtractionError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, types.RoleJob, eerr.Role)
}

// Scenario E: CV 抽取成功，岗位抽取超时，不返回部分结果，analysis 命名空间中没有任何写入
func TestMatchTimeoutWritesNothingToAnalysis(t *testing.T) {
	c, store := newMemCache(t)
	ex := newCountingExtractor()
	ex.delay[types.RoleJob] = time.Second

	cm := NewCachedMatcher(NewMatcher(ex, WithCache(c), WithExtractionTimeout(50*time.Millisecond)), c)

	res, err := cm.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Wait()
	for _, key := range store.Keys() {
		assert.False(t, strings.HasPrefix(key, constants.NamespaceAnalysis+":"), key)
	}
}

func TestMatchTimeoutWithUncooperativeExtractor(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ex := FeatureExtractorFunc(func(_ context.Context, _ string, role types.Role) (types.FeatureSet, error) {
		if role == types.RoleJob {
			<-block
		}
		return cvFeatures(), nil
	})
	m := NewMatcher(ex, WithExtractionTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := m.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	assert.True(t, IsExtractionError(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestMatchUsesFeatureCache(t *testing.T) {
	c, _ := newMemCache(t)
	ex := newCountingExtractor()
	m := NewMatcher(ex, WithCache(c))
	ctx := context.Background()

	first, err := m.MatchCvToJob(ctx, cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)
	second, err := m.MatchCvToJob(ctx, cvText, jobText, scoring.TechWeights)
	require.NoError(t, err)

	assert.Equal(t, int32(2), ex.calls.Load(), "第二次匹配全部命中 emb 缓存")
	assert.Equal(t, first.Breakdown, second.Breakdown)

	var fs types.FeatureSet
	require.True(t, c.Get(ctx, hashing.Key(constants.NamespaceEmbedding, cvText), &fs))
	assert.Equal(t, cvFeatures(), fs)
}

func TestMatchSurvivesBrokenCache(t *testing.T) {
	broken := cache.New(brokenStore{}, cache.WithErrorHandler(func(*cache.CacheError) {}))
	ex := newCountingExtractor()
	m := NewMatcher(ex, WithCache(broken))

	_, err := m.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)
	_, err = m.MatchCvToJob(context.Background(), cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)
	assert.Equal(t, int32(4), ex.calls.Load(), "缓存不可用时每次都重新抽取")
}

func TestCachedMatcherMemoizesPerWeights(t *testing.T) {
	c, store := newMemCache(t)
	ex := newCountingExtractor()
	cm := NewCachedMatcher(NewMatcher(ex), c)
	ctx := context.Background()

	first, err := cm.MatchCvToJob(ctx, cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)
	again, err := cm.MatchCvToJob(ctx, cvText, jobText, scoring.DefaultWeights)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(2), ex.calls.Load())

	_, err = cm.MatchCvToJob(ctx, cvText, jobText, scoring.TechWeights)
	require.NoError(t, err)
	assert.Equal(t, int32(4), ex.calls.Load(), "不同权重是不同的 analysis 条目")

	var analysis int
	for _, key := range store.Keys() {
		if strings.HasPrefix(key, constants.NamespaceAnalysis+":") && !strings.HasSuffix(key, constants.HitsSuffix) {
			analysis++
		}
	}
	assert.Equal(t, 2, analysis)
}

func TestCachedMatcherValidatesFirst(t *testing.T) {
	c, store := newMemCache(t)
	ex := newCountingExtractor()
	cm := NewCachedMatcher(NewMatcher(ex), c)

	_, err := cm.MatchCvToJob(context.Background(), "court", jobText, scoring.DefaultWeights)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, store.Len())
}

func TestAnalysisKeyFormat(t *testing.T) {
	key := AnalysisKey(cvText, jobText, scoring.DefaultWeights)
	parts := strings.Split(key, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, constants.NamespaceAnalysis, parts[0])
	assert.Equal(t, hashing.Fingerprint(cvText), parts[1])
	assert.Equal(t, hashing.Fingerprint(jobText), parts[2])
	assert.Len(t, parts[3], 16)
	assert.NotEqual(t, key, AnalysisKey(cvText, jobText, scoring.TechWeights))
}

func TestScoreFeatures(t *testing.T) {
	m := NewMatcher(nil)
	res, err := m.ScoreFeatures(cvFeatures(), jobFeatures(), scoring.TechWeights)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Breakdown.Technical, 1e-9)

	_, err = m.ScoreFeatures(cvFeatures(), jobFeatures(), types.WeightConfig{Technical: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

// brokenStore 所有操作都失败
type brokenStore struct{}

var errBroken = errors.New("dial tcp: connection refused")

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errBroken
}

func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errBroken
}

func (brokenStore) Incr(context.Context, string) (int64, error) {
	return 0, errBroken
}

func (brokenStore) Ping(context.Context) error {
	return errBroken
}
