package scoring

import (
	"math"
	"testing"

	"cvmatch-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skills(names ...string) []types.Skill {
	out := make([]types.Skill, len(names))
	for i, n := range names {
		out[i] = types.Skill{Name: n}
	}
	return out
}

func sampleCV() types.FeatureSet {
	return types.FeatureSet{
		HardSkills: skills("Go", "PostgreSQL", "React.js", "Docker"),
		SoftSkills: skills("Communication", "Esprit d'équipe"),
		Experience: types.Experience{TotalYears: 6},
		Education:  types.Education{Level: "Bac+5 Master informatique"},
		Culture:    types.Culture{Values: []string{"Innovation", "Transparence"}},
	}
}

func sampleJob() types.FeatureSet {
	return types.FeatureSet{
		HardSkills: skills("golang", "react", "kubernetes"),
		SoftSkills: skills("communication", "autonomie"),
		Experience: types.Experience{TotalYears: 4},
		Education:  types.Education{Level: "bac+5"},
		Culture:    types.Culture{Values: []string{"innovation"}},
	}
}

// Scenario A
func TestTechnicalScoreBidirectionalSubstring(t *testing.T) {
	cv := skills("React", "Node.js")
	job := skills("react", "express")
	assert.InDelta(t, 0.5, TechnicalScore(cv, job), 1e-12)

	// "React.js" 包含 "react"，"go" 包含于 "golang"
	assert.InDelta(t, 2.0/3.0, TechnicalScore(skills("React.js", "Go", "Rust"), skills("react", "golang", "java")), 1e-12)
}

func TestTechnicalScoreEmptyJobIsZero(t *testing.T) {
	assert.Equal(t, 0.0, TechnicalScore(skills("Go"), nil))
	assert.Equal(t, 0.0, TechnicalScore(nil, nil))
	assert.False(t, math.IsNaN(TechnicalScore(nil, nil)))
}

func TestTechnicalScoreIsCapped(t *testing.T) {
	// 两个 cv 技能都命中唯一的 job 技能
	assert.Equal(t, 1.0, TechnicalScore(skills("React", "React Native"), skills("react")))
}

func TestEmptySkillNamesAreIgnored(t *testing.T) {
	assert.Equal(t, 0.0, TechnicalScore(skills("", "  "), skills("go")))
	assert.Equal(t, 0.0, SoftSkillsScore(skills("rigueur"), skills("")))
}

// Scenario B
func TestExperienceNeutralWhenJobHasNoRequirement(t *testing.T) {
	for _, years := range []float64{0, 1, 3.5, 20} {
		assert.Equal(t, 0.5, ExperienceScore(years, 0))
	}
}

func TestExperienceIsCapped(t *testing.T) {
	assert.InDelta(t, 0.5, ExperienceScore(2, 4), 1e-12)
	prev := 0.0
	for years := 0.0; years <= 30; years += 0.5 {
		s := ExperienceScore(years, 5)
		assert.LessOrEqual(t, s, 1.0)
		assert.GreaterOrEqual(t, s, prev, "经验分数随年限单调不减")
		prev = s
	}
	assert.Equal(t, 1.0, ExperienceScore(15, 5))
}

func TestEducationScore(t *testing.T) {
	assert.Equal(t, 1.0, EducationScore("Bac+5 (Master)", "BAC+5"))
	assert.Equal(t, 0.5, EducationScore("", "Bac+5"))
	assert.Equal(t, 0.5, EducationScore("Bac+3", ""))
	assert.Equal(t, 0.5, EducationScore("Bac+3", "Bac+5"), "不匹配不降为 0")
}

func TestSoftSkillsAndCulturalNeutralDefaults(t *testing.T) {
	assert.Equal(t, 0.5, SoftSkillsScore(skills("rigueur"), nil))
	assert.Equal(t, 0.5, CulturalScore([]string{"innovation"}, nil))
	assert.Equal(t, 0.5, CulturalScore([]string{"Innovation", "Audace"}, []string{"innovation", "bienveillance"}))
}

// Scenario C
func TestMatchLevelThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{1, LevelExcellent},
		{0.82, LevelExcellent},
		{0.8, LevelExcellent},
		{0.79, LevelGood},
		{0.6, LevelGood},
		{0.59, LevelAverage},
		{0.4, LevelAverage},
		{0.39, LevelWeak},
		{0, LevelWeak},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchLevel(c.score), "score=%v", c.score)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	cv, job := sampleCV(), sampleJob()
	first := Score(cv, job, DefaultWeights)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Score(cv, job, DefaultWeights))
	}
}

func TestScoreBreakdown(t *testing.T) {
	b := Score(sampleCV(), sampleJob(), DefaultWeights)

	assert.InDelta(t, 2.0/3.0, b.Technical, 1e-12)
	assert.Equal(t, 1.0, b.Experience)
	assert.Equal(t, 1.0, b.Education)
	assert.Equal(t, 0.5, b.SoftSkills)
	assert.Equal(t, 1.0, b.Cultural)

	want := 2.0/3.0*0.30 + 1*0.20 + 1*0.15 + 0.5*0.10 + 1*0.10
	assert.InDelta(t, want, b.OverallScore, 1e-12)
	assert.Equal(t, MatchLevel(want), b.MatchLevel)
}

func TestScoreBounds(t *testing.T) {
	cvs := []types.FeatureSet{
		{},
		sampleCV(),
		{HardSkills: skills("a", "b", "c", "d", "e"), Experience: types.Experience{TotalYears: 100}},
	}
	jobs := []types.FeatureSet{
		{},
		sampleJob(),
		{HardSkills: skills("a"), SoftSkills: skills("b"), Culture: types.Culture{Values: []string{"c"}}, Experience: types.Experience{TotalYears: 1}},
	}
	full := types.WeightConfig{Technical: 0.2, Experience: 0.2, Education: 0.2, SoftSkills: 0.2, Cultural: 0.2}

	for _, w := range []types.WeightConfig{DefaultWeights, TechWeights, full, {}} {
		for _, cv := range cvs {
			for _, job := range jobs {
				b := Score(cv, job, w)
				for _, v := range []float64{b.Technical, b.Experience, b.Education, b.SoftSkills, b.Cultural, b.OverallScore} {
					assert.GreaterOrEqual(t, v, 0.0)
					assert.LessOrEqual(t, v, 1.0+1e-12)
				}
			}
		}
	}
}

func TestProfilesAreValid(t *testing.T) {
	for name, w := range Profiles() {
		require.NoError(t, Validate(w), name)
		assert.Greater(t, AuthenticityWeight(w), 0.0, name)
	}
	_, ok := Profile("unknown")
	assert.False(t, ok)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	err := Validate(types.WeightConfig{Technical: -0.1})
	assert.ErrorIs(t, err, ErrNegativeWeight)

	err = Validate(types.WeightConfig{Technical: 0.6, Experience: 0.6})
	assert.ErrorIs(t, err, ErrWeightSum)

	assert.NoError(t, Validate(types.WeightConfig{Technical: 0.5, Experience: 0.5}))
}

func TestValidateReportsFirstNegativeWeight(t *testing.T) {
	w := types.WeightConfig{Technical: 0.2, Experience: -0.1, SoftSkills: -0.2, Cultural: -0.3}
	for i := 0; i < 50; i++ {
		err := Validate(w)
		require.ErrorIs(t, err, ErrNegativeWeight)
		assert.Contains(t, err.Error(), "experience=-0.1")
	}
}
