package constants

import "time"

// 结果缓存的命名空间与TTL
// Key 格式: {namespace}:{sha256(normalized input)}
// 成对 Key 格式: equiv:{sha256(a)}:{sha256(b)}
const (
	// NamespaceEmbedding 特征抽取结果 (FeatureSet)
	NamespaceEmbedding = "emb"
	// NamespaceEquivalence 学历/文凭等价判定结果
	NamespaceEquivalence = "equiv"
	// NamespaceAnalysis 完整匹配分析结果 (MatchResult)
	NamespaceAnalysis = "analysis"
	// NamespaceFrench 法国学历参考数据 (Bac+N / RNCP 等级)
	NamespaceFrench = "french"
	// NamespaceSuggestions 简历改进建议
	NamespaceSuggestions = "suggestions"

	// HitsSuffix 命中计数器 key 后缀，与条目共享同一TTL
	HitsSuffix = ":hits"
)

const (
	EmbeddingCacheTTL   = 24 * time.Hour
	EquivalenceCacheTTL = 7 * 24 * time.Hour
	AnalysisCacheTTL    = time.Hour
	FrenchCacheTTL      = 30 * 24 * time.Hour
	SuggestionsCacheTTL = 2 * time.Hour
)

// NamespaceTTLs 每个命名空间的TTL策略
var NamespaceTTLs = map[string]time.Duration{
	NamespaceEmbedding:   EmbeddingCacheTTL,
	NamespaceEquivalence: EquivalenceCacheTTL,
	NamespaceAnalysis:    AnalysisCacheTTL,
	NamespaceFrench:      FrenchCacheTTL,
	NamespaceSuggestions: SuggestionsCacheTTL,
}

// TTLFor 返回命名空间对应的TTL，未知命名空间返回 0
func TTLFor(namespace string) time.Duration {
	return NamespaceTTLs[namespace]
}
