// Package narrative 把评分结果转换为可读的优势、改进点和后续步骤。
//
// 分为两步：Classify 只根据阈值给每个维度分类，Render 再把分类结果渲染成法语句子。
// 两步都是纯函数，不依赖随机数或时间。
package narrative

import (
	"cvmatch-go/internal/types"
	"fmt"
	"math"
)

// Criterion 评分维度
type Criterion string

const (
	CriterionTechnical  Criterion = "technical"
	CriterionExperience Criterion = "experience"
	CriterionEducation  Criterion = "education"
	CriterionSoftSkills Criterion = "softSkills"
	CriterionCultural   Criterion = "cultural"
)

// Criteria 固定的维度顺序，决定输出句子的顺序
var Criteria = []Criterion{
	CriterionTechnical,
	CriterionExperience,
	CriterionEducation,
	CriterionSoftSkills,
	CriterionCultural,
}

// Category 单个维度的分类结果
type Category int

const (
	CategoryNeutral Category = iota
	CategoryStrength
	CategoryImprovement
)

func (c Category) String() string {
	switch c {
	case CategoryStrength:
		return "strength"
	case CategoryImprovement:
		return "improvement"
	default:
		return "neutral"
	}
}

// Verdict 一个维度的分类结论
type Verdict struct {
	Criterion Criterion
	Score     float64
	Category  Category
}

type rule struct {
	strengthMin float64
	// improvementBelow 为 0 表示"未达到优势即需改进"
	improvementBelow float64
}

var rules = map[Criterion]rule{
	CriterionTechnical:  {strengthMin: 0.7},
	CriterionExperience: {strengthMin: 0.8, improvementBelow: 0.5},
	CriterionEducation:  {strengthMin: 0.8},
	CriterionSoftSkills: {strengthMin: 0.6},
	CriterionCultural:   {strengthMin: 0.6},
}

// Classify 按固定阈值对五个维度分类，输出顺序与 Criteria 一致
func Classify(b types.Breakdown) []Verdict {
	verdicts := make([]Verdict, 0, len(Criteria))
	for _, c := range Criteria {
		score := scoreOf(b, c)
		verdicts = append(verdicts, Verdict{
			Criterion: c,
			Score:     score,
			Category:  classify(rules[c], score),
		})
	}
	return verdicts
}

func classify(r rule, score float64) Category {
	if score >= r.strengthMin {
		return CategoryStrength
	}
	if r.improvementBelow == 0 || score < r.improvementBelow {
		return CategoryImprovement
	}
	return CategoryNeutral
}

func scoreOf(b types.Breakdown, c Criterion) float64 {
	switch c {
	case CriterionTechnical:
		return b.Technical
	case CriterionExperience:
		return b.Experience
	case CriterionEducation:
		return b.Education
	case CriterionSoftSkills:
		return b.SoftSkills
	case CriterionCultural:
		return b.Cultural
	}
	return 0
}

var strengthTemplates = map[Criterion]string{
	CriterionTechnical:  "Compétences techniques solides : %d%% des compétences requises sont maîtrisées",
	CriterionExperience: "Expérience professionnelle en adéquation avec le niveau attendu",
	CriterionEducation:  "Formation correspondant au niveau d'études demandé",
	CriterionSoftSkills: "Savoir-être en phase avec les qualités recherchées",
	CriterionCultural:   "Valeurs alignées avec la culture de l'entreprise",
}

var improvementTemplates = map[Criterion]string{
	CriterionTechnical:  "Renforcer les compétences techniques demandées par le poste",
	CriterionExperience: "Mettre davantage en valeur l'expérience professionnelle pertinente",
	CriterionEducation:  "Préciser le niveau de diplôme et les formations complémentaires",
	CriterionSoftSkills: "Illustrer les qualités relationnelles attendues par des exemples concrets",
	CriterionCultural:   "Montrer l'adhésion aux valeurs de l'entreprise",
}

// Render 把分类结果渲染为优势和改进点两组句子，中性维度不产生输出
func Render(verdicts []Verdict) (strengths, improvements []string) {
	strengths = []string{}
	improvements = []string{}
	for _, v := range verdicts {
		switch v.Category {
		case CategoryStrength:
			strengths = append(strengths, renderStrength(v))
		case CategoryImprovement:
			improvements = append(improvements, improvementTemplates[v.Criterion])
		}
	}
	return strengths, improvements
}

func renderStrength(v Verdict) string {
	tpl := strengthTemplates[v.Criterion]
	if v.Criterion == CriterionTechnical {
		return fmt.Sprintf(tpl, int(math.Round(v.Score*100)))
	}
	return tpl
}

var nextSteps = []string{
	"Adapter le CV aux mots-clés de l'offre",
	"Préparer des exemples concrets pour l'entretien",
	"Se renseigner sur l'entreprise et sa culture",
	"Rédiger une lettre de motivation personnalisée",
}

// NextSteps 固定的四条建议，与分数无关
func NextSteps() []string {
	out := make([]string, len(nextSteps))
	copy(out, nextSteps)
	return out
}

// Generate Classify + Render + NextSteps 的便捷组合
func Generate(b types.Breakdown) (strengths, improvements, steps []string) {
	strengths, improvements = Render(Classify(b))
	return strengths, improvements, NextSteps()
}
