package processor

import (
	"strings"

	"cvmatch-go/internal/types"
)

const (
	maxPlausibleYears = 45.0
	maxPlausibleHard  = 40
)

// RuleAuthenticityAssessor 基于规则的简历可信度评估，不调用模型
type RuleAuthenticityAssessor struct{}

// Assess 从满分 1 开始按问题扣分，结果在 [0,1]
func (RuleAuthenticityAssessor) Assess(cv types.FeatureSet) types.Authenticity {
	a := types.Authenticity{
		GlobalScore:     1,
		Issues:          []string{},
		Recommendations: []string{},
	}
	penalize := func(amount float64, issue, recommendation string) {
		a.GlobalScore -= amount
		a.Issues = append(a.Issues, issue)
		a.Recommendations = append(a.Recommendations, recommendation)
	}

	switch n := len(cv.HardSkills); {
	case n == 0:
		penalize(0.3, "Aucune compétence technique identifiée",
			"Détaillez les technologies et outils que vous maîtrisez")
	case n > maxPlausibleHard:
		penalize(0.2, "Liste de compétences techniques anormalement longue",
			"Concentrez-vous sur les compétences réellement pratiquées")
	}
	if dup := duplicateSkills(cv.HardSkills); len(dup) > 0 {
		penalize(0.1, "Compétences répétées : "+strings.Join(dup, ", "),
			"Supprimez les doublons dans la liste des compétences")
	}
	if len(cv.SoftSkills) == 0 {
		penalize(0.1, "Aucune compétence comportementale mentionnée",
			"Ajoutez quelques qualités illustrées par des exemples concrets")
	}
	if cv.Experience.TotalYears > maxPlausibleYears {
		penalize(0.3, "Durée d'expérience peu plausible",
			"Vérifiez le calcul de vos années d'expérience")
	}
	if strings.TrimSpace(cv.Education.Level) == "" {
		penalize(0.1, "Niveau de formation non précisé",
			"Indiquez votre diplôme le plus élevé")
	}

	if a.GlobalScore < 0 {
		a.GlobalScore = 0
	}
	return a
}

// duplicateSkills 忽略大小写后重复出现的技能，按首次出现顺序返回
func duplicateSkills(skills []types.Skill) []string {
	seen := make(map[string]int, len(skills))
	var dup []string
	for _, s := range skills {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if key == "" {
			continue
		}
		seen[key]++
		if seen[key] == 2 {
			dup = append(dup, s.Name)
		}
	}
	return dup
}
