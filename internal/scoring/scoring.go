// Package scoring 实现简历与岗位之间的多维度加权评分。
// 所有函数都是纯函数：相同输入得到完全相同的输出，没有隐藏状态。
package scoring

import (
	"cvmatch-go/internal/types"
	"math"
	"strings"
)

const (
	// NeutralScore 岗位未给出要求时的中性分数
	NeutralScore = 0.5

	LevelExcellent = "Excellent"
	LevelGood      = "Bon"
	LevelAverage   = "Moyen"
	LevelWeak      = "Faible"
)

// matchLevelThresholds 按顺序匹配，第一个满足的生效
var matchLevelThresholds = []struct {
	min   float64
	label string
}{
	{0.8, LevelExcellent},
	{0.6, LevelGood},
	{0.4, LevelAverage},
}

// Score 计算五个子分数、加权总分以及匹配等级
func Score(cv, job types.FeatureSet, w types.WeightConfig) types.ScoreBreakdown {
	b := types.Breakdown{
		Technical:  TechnicalScore(cv.HardSkills, job.HardSkills),
		Experience: ExperienceScore(cv.Experience.TotalYears, job.Experience.TotalYears),
		Education:  EducationScore(cv.Education.Level, job.Education.Level),
		SoftSkills: SoftSkillsScore(cv.SoftSkills, job.SoftSkills),
		Cultural:   CulturalScore(cv.Culture.Values, job.Culture.Values),
	}
	overall := Overall(b, w)
	return types.ScoreBreakdown{
		Breakdown:    b,
		OverallScore: overall,
		MatchLevel:   MatchLevel(overall),
	}
}

// Overall 子分数与权重的加权和
func Overall(b types.Breakdown, w types.WeightConfig) float64 {
	return b.Technical*w.Technical +
		b.Experience*w.Experience +
		b.Education*w.Education +
		b.SoftSkills*w.SoftSkills +
		b.Cultural*w.Cultural
}

// MatchLevel 根据总分返回 Excellent / Bon / Moyen / Faible
func MatchLevel(overall float64) string {
	for _, t := range matchLevelThresholds {
		if overall >= t.min {
			return t.label
		}
	}
	return LevelWeak
}

// TechnicalScore 硬技能匹配度，岗位没有列出硬技能时为 0
func TechnicalScore(cv, job []types.Skill) float64 {
	if len(job) == 0 {
		return 0
	}
	return matchRatio(skillNames(cv), skillNames(job))
}

// ExperienceScore min(cv/job, 1)，岗位未要求年限时为中性分数。超出要求不会得到高于 1 的分数
func ExperienceScore(cvYears, jobYears float64) float64 {
	if jobYears <= 0 {
		return NeutralScore
	}
	if cvYears <= 0 {
		return 0
	}
	return math.Min(cvYears/jobYears, 1)
}

// EducationScore 岗位学历文本是简历学历文本的子串时为 1，其余情况 (未知或不匹配) 为中性分数
func EducationScore(cvLevel, jobLevel string) float64 {
	cv := normalize(cvLevel)
	job := normalize(jobLevel)
	if cv == "" || job == "" {
		return NeutralScore
	}
	if strings.Contains(cv, job) {
		return 1
	}
	return NeutralScore
}

// SoftSkillsScore 软技能匹配度，岗位没有列出软技能时为中性分数
func SoftSkillsScore(cv, job []types.Skill) float64 {
	if len(job) == 0 {
		return NeutralScore
	}
	return matchRatio(skillNames(cv), skillNames(job))
}

// CulturalScore 文化价值观匹配度，岗位没有列出价值观时为中性分数
func CulturalScore(cv, job []string) float64 {
	if len(job) == 0 {
		return NeutralScore
	}
	return matchRatio(cv, job)
}

// matchRatio 统计 cv 中与任一 job 项双向子串匹配的条目数，除以 job 条目数。
// 双向匹配用于覆盖 "React.js" 与 "React" 这类复合名称。
// 多个 cv 条目可能命中同一个 job 条目，结果截断到 1。
func matchRatio(cv, job []string) float64 {
	if len(job) == 0 {
		return 0
	}
	jobNorm := make([]string, 0, len(job))
	for _, j := range job {
		if n := normalize(j); n != "" {
			jobNorm = append(jobNorm, n)
		}
	}

	matched := 0
	for _, c := range cv {
		cn := normalize(c)
		if cn == "" {
			continue
		}
		for _, jn := range jobNorm {
			if strings.Contains(cn, jn) || strings.Contains(jn, cn) {
				matched++
				break
			}
		}
	}
	return math.Min(float64(matched)/float64(len(job)), 1)
}

func skillNames(skills []types.Skill) []string {
	names := make([]string, len(skills))
	for i, s := range skills {
		names[i] = s.Name
	}
	return names
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
