package processor

import (
	"context"

	"cvmatch-go/internal/types"
)

//
// 特征抽取相关接口
//

// FeatureExtractor 把一个文档转换为 FeatureSet。
// 实现必须遵守 ctx 的取消，输出无法解析时返回错误而不是零值
type FeatureExtractor interface {
	Extract(ctx context.Context, text string, role types.Role) (types.FeatureSet, error)
}

// FeatureExtractorFunc 函数适配器
type FeatureExtractorFunc func(ctx context.Context, text string, role types.Role) (types.FeatureSet, error)

func (f FeatureExtractorFunc) Extract(ctx context.Context, text string, role types.Role) (types.FeatureSet, error) {
	return f(ctx, text, role)
}

// AuthenticityAssessor 评估简历特征的可信度
type AuthenticityAssessor interface {
	Assess(cv types.FeatureSet) types.Authenticity
}

//
// 缓存与匹配接口
//

// Cache 结果缓存，cache.ResultCache 满足该接口。
// Get 在任何失败时都返回 false，Set 从不返回错误
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any)
}

// CVMatcher Matcher 和 CachedMatcher 共同的调用入口
type CVMatcher interface {
	MatchCvToJob(ctx context.Context, cvText, jobText string, w types.WeightConfig) (*types.MatchResult, error)
}
