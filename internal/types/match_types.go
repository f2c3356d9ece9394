package types

import "time"

// Role 文档角色，FeatureSet 总是从一个文档和一个角色派生
type Role string

const (
	// RoleCV 候选人简历
	RoleCV Role = "cv"
	// RoleJob 岗位描述
	RoleJob Role = "job"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	return r == RoleCV || r == RoleJob
}

// Skill 技能条目，比较时按名称忽略大小写
type Skill struct {
	Name string `json:"name"`
}

// Experience 工作经验
type Experience struct {
	TotalYears float64 `json:"totalYears"`
}

// Education 学历，Level 为自由文本 (例如 "Bac+5")
type Education struct {
	Level string `json:"level"`
}

// Culture 文化价值观
type Culture struct {
	Values []string `json:"values"`
}

// FeatureSet 由AI从简历或岗位文本中抽取的结构化特征。
// 产生后不可修改。
type FeatureSet struct {
	HardSkills []Skill    `json:"hardSkills"`
	SoftSkills []Skill    `json:"softSkills"`
	Experience Experience `json:"experience"`
	Education  Education  `json:"education"`
	Culture    Culture    `json:"culture"`
}

// WeightConfig 五个评分维度的权重，总和 <= 1，剩余部分隐式分配给"真实性"维度
type WeightConfig struct {
	Technical  float64 `json:"technical" yaml:"technical"`
	Experience float64 `json:"experience" yaml:"experience"`
	Education  float64 `json:"education" yaml:"education"`
	SoftSkills float64 `json:"softSkills" yaml:"soft_skills"`
	Cultural   float64 `json:"cultural" yaml:"cultural"`
}

// Sum 返回五个维度权重之和
func (w WeightConfig) Sum() float64 {
	return w.Technical + w.Experience + w.Education + w.SoftSkills + w.Cultural
}

// Breakdown 五个子分数，均在 [0,1]
type Breakdown struct {
	Technical  float64 `json:"technical"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
	SoftSkills float64 `json:"softSkills"`
	Cultural   float64 `json:"cultural"`
}

// ScoreBreakdown 评分引擎的输出，是 (cv, job, weights) 的纯函数
type ScoreBreakdown struct {
	Breakdown
	OverallScore float64 `json:"overallScore"`
	MatchLevel   string  `json:"matchLevel"`
}

// Authenticity 简历真实性评估
type Authenticity struct {
	GlobalScore     float64  `json:"globalScore"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// MatchResult 返回给调用方的匹配结果，本引擎不负责持久化
type MatchResult struct {
	OverallScore float64      `json:"overallScore"`
	MatchLevel   string       `json:"matchLevel"`
	Breakdown    Breakdown    `json:"breakdown"`
	Strengths    []string     `json:"strengths"`
	Improvements []string     `json:"improvements"`
	NextSteps    []string     `json:"nextSteps"`
	Authenticity Authenticity `json:"authenticity"`
}

// CacheEntry 缓存条目的元数据视图
type CacheEntry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	TTL       time.Duration `json:"ttl"`
	Hits      int64         `json:"hits"`
	CreatedAt time.Time     `json:"createdAt"`
}

// EquivalenceResult 两个文凭之间的等价判定
type EquivalenceResult struct {
	Equivalent bool    `json:"equivalent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// EducationLevel 法国学历参考数据的标准化结果
type EducationLevel struct {
	Input     string `json:"input"`
	Level     string `json:"level"`     // 例如 "Bac+5"
	RNCPLevel int    `json:"rncpLevel"` // 法国国家职业证书目录等级 (3-8)，未知为 0
	Source    string `json:"source"`    // "table" 或 "llm"
}

// Suggestion 针对 (cv, job) 的简历改进建议
type Suggestion struct {
	Criterion string `json:"criterion"`
	Priority  string `json:"priority"` // high / medium / low
	Text      string `json:"text"`
}
