package scoring

import (
	"errors"
	"fmt"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/types"
)

// sumTolerance 浮点求和的容差
const sumTolerance = 1e-9

var (
	// DefaultWeights 通用岗位权重，剩余 0.15 留给真实性维度
	DefaultWeights = types.WeightConfig{
		Technical:  0.30,
		Experience: 0.20,
		Education:  0.15,
		SoftSkills: 0.10,
		Cultural:   0.10,
	}

	// TechWeights 技术类岗位权重，更偏重硬技能
	TechWeights = types.WeightConfig{
		Technical:  0.40,
		Experience: 0.20,
		Education:  0.10,
		SoftSkills: 0.10,
		Cultural:   0.05,
	}

	ErrNegativeWeight = errors.New("权重不能为负数")
	ErrWeightSum      = errors.New("权重之和不能大于1")
)

// Profiles 返回内置的权重配置，按名称索引
func Profiles() map[string]types.WeightConfig {
	return map[string]types.WeightConfig{
		constants.ProfileDefault: DefaultWeights,
		constants.ProfileTech:    TechWeights,
	}
}

// Profile 按名称查找内置权重配置
func Profile(name string) (types.WeightConfig, bool) {
	w, ok := Profiles()[name]
	return w, ok
}

// Validate 检查权重非负且总和不超过 1
func Validate(w types.WeightConfig) error {
	// 按固定顺序检查，多个负数时总是报告第一个
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"technical", w.Technical},
		{"experience", w.Experience},
		{"education", w.Education},
		{"softSkills", w.SoftSkills},
		{"cultural", w.Cultural},
	} {
		if f.value < 0 {
			return fmt.Errorf("%w: %s=%v", ErrNegativeWeight, f.name, f.value)
		}
	}
	if sum := w.Sum(); sum > 1+sumTolerance {
		return fmt.Errorf("%w: %.4f", ErrWeightSum, sum)
	}
	return nil
}

// AuthenticityWeight 五个维度之外剩余的权重
func AuthenticityWeight(w types.WeightConfig) float64 {
	rest := 1 - w.Sum()
	if rest < 0 {
		return 0
	}
	return rest
}
