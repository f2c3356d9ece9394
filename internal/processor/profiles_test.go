package processor

import (
	"errors"
	"testing"

	"cvmatch-go/internal/scoring"
	"cvmatch-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightResolverBuiltins(t *testing.T) {
	r := NewWeightResolver(nil, "")

	w, err := r.Resolve("", nil)
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultWeights, w)

	w, err = r.Resolve("tech", nil)
	require.NoError(t, err)
	assert.Equal(t, scoring.TechWeights, w)

	assert.Equal(t, []string{"default", "tech"}, r.Names())
}

func TestWeightResolverCustomProfiles(t *testing.T) {
	sales := types.WeightConfig{Technical: 0.1, Experience: 0.3, Education: 0.1, SoftSkills: 0.3, Cultural: 0.1}
	tech := types.WeightConfig{Technical: 0.6, Experience: 0.2}
	r := NewWeightResolver(map[string]types.WeightConfig{"sales": sales, "tech": tech}, "sales")

	w, err := r.Resolve("", nil)
	require.NoError(t, err)
	assert.Equal(t, sales, w)

	w, err = r.Resolve("tech", nil)
	require.NoError(t, err)
	assert.Equal(t, tech, w, "自定义配置覆盖内置同名配置")

	assert.Equal(t, []string{"default", "sales", "tech"}, r.Names())
}

func TestWeightResolverOverrideAndErrors(t *testing.T) {
	r := NewWeightResolver(nil, "")

	override := types.WeightConfig{Technical: 0.5, Experience: 0.5}
	w, err := r.Resolve("unknown", &override)
	require.NoError(t, err, "override 优先于名称")
	assert.Equal(t, override, w)

	_, err = r.Resolve("unknown", nil)
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "profile", verr.Field)

	_, err = r.Resolve("", &types.WeightConfig{Technical: 0.9, Experience: 0.9})
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, scoring.ErrWeightSum)

	_, err = r.Resolve("", &types.WeightConfig{Technical: -0.1})
	assert.ErrorIs(t, err, scoring.ErrNegativeWeight)
}
