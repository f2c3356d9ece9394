package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	Component("cache").Debug().Str("namespace", "emb").Msg("缓存命中")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache", line["component"])
	assert.Equal(t, "emb", line["namespace"])
	assert.Equal(t, "debug", line["level"])
}

func TestInitInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "verbose", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	Debug().Msg("不会输出")
	assert.Empty(t, buf.String())
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	l := Ctx(context.Background())
	require.NotNil(t, l)

	ctx := WithContext(context.Background())
	assert.NotNil(t, Ctx(ctx))
}
