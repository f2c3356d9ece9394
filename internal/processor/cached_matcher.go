package processor

import (
	"context"
	"fmt"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/types"
)

// CachedMatcher 在 analysis 命名空间缓存完整的匹配结果，失败的匹配从不写入
type CachedMatcher struct {
	inner *Matcher
	cache Cache
}

// NewCachedMatcher 包装 Matcher。cache 为 nil 时等同于 inner
func NewCachedMatcher(inner *Matcher, cache Cache) *CachedMatcher {
	return &CachedMatcher{inner: inner, cache: cache}
}

// Matcher 返回被包装的 Matcher
func (c *CachedMatcher) Matcher() *Matcher { return c.inner }

// AnalysisKey analysis:{cvHash}:{jobHash}:{weightsDigest}，权重不同的结果互不覆盖
func AnalysisKey(cvText, jobText string, w types.WeightConfig) string {
	return hashing.PairKey(constants.NamespaceAnalysis, cvText, jobText) + ":" + WeightsDigest(w)
}

// WeightsDigest 权重配置的短摘要
func WeightsDigest(w types.WeightConfig) string {
	canonical := fmt.Sprintf("%.6f|%.6f|%.6f|%.6f|%.6f",
		w.Technical, w.Experience, w.Education, w.SoftSkills, w.Cultural)
	return hashing.Fingerprint(canonical)[:16]
}

func (c *CachedMatcher) MatchCvToJob(ctx context.Context, cvText, jobText string, w types.WeightConfig) (*types.MatchResult, error) {
	if c.cache == nil {
		return c.inner.MatchCvToJob(ctx, cvText, jobText, w)
	}
	if err := c.inner.Validate(cvText, jobText, w); err != nil {
		return nil, err
	}

	key := AnalysisKey(cvText, jobText, w)
	var cached types.MatchResult
	if c.cache.Get(ctx, key, &cached) {
		c.inner.log.Debug().Str("key", key[:32]).Msg("分析结果缓存命中")
		return &cached, nil
	}

	result, err := c.inner.MatchCvToJob(ctx, cvText, jobText, w)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, result)
	return result, nil
}

var _ CVMatcher = (*CachedMatcher)(nil)
