package processor

import (
	"sort"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/scoring"
	"cvmatch-go/internal/types"
)

// WeightResolver 按名称解析权重配置。内置配置可被同名的自定义配置覆盖
type WeightResolver struct {
	profiles       map[string]types.WeightConfig
	defaultProfile string
}

// NewWeightResolver custom 一般来自配置文件的 matching.profiles
func NewWeightResolver(custom map[string]types.WeightConfig, defaultProfile string) *WeightResolver {
	profiles := scoring.Profiles()
	for name, w := range custom {
		profiles[name] = w
	}
	if defaultProfile == "" {
		defaultProfile = constants.ProfileDefault
	}
	return &WeightResolver{profiles: profiles, defaultProfile: defaultProfile}
}

// Resolve override 非空时直接使用它，否则按名称查找，名称为空时使用默认配置。
// 结果总是经过 scoring.Validate 校验
func (r *WeightResolver) Resolve(name string, override *types.WeightConfig) (types.WeightConfig, error) {
	var w types.WeightConfig
	switch {
	case override != nil:
		w = *override
	default:
		if name == "" {
			name = r.defaultProfile
		}
		found, ok := r.profiles[name]
		if !ok {
			return types.WeightConfig{}, &ValidationError{Field: "profile", Detail: "未知的权重配置: " + name}
		}
		w = found
	}
	if err := scoring.Validate(w); err != nil {
		return types.WeightConfig{}, NewWeightsError(err)
	}
	return w, nil
}

// Names 所有可用的配置名，已排序
func (r *WeightResolver) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
