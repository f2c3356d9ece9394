package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/parser"
	"cvmatch-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const equivalenceSystemPrompt = `Tu es un expert du système éducatif français et des équivalences de diplômes (RNCP, ENIC-NARIC).
On te donne deux diplômes A et B. Indique si le diplôme A est équivalent ou supérieur au diplôme B
pour un recrutement. Réponds UNIQUEMENT en JSON :
{"equivalent": true|false, "confidence": 0.0-1.0, "reason": "explication courte en français"}`

var equivalenceSchema = parser.CompileSchema(`{
  "type": "object",
  "required": ["equivalent", "confidence"],
  "properties": {
    "equivalent": {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  }
}`)

// EquivalenceChecker 判断两个文凭是否等价，结果在 equiv 命名空间缓存 7 天。
// 缓存 key 区分顺序：Check(a, b) 与 Check(b, a) 是两个不同的问题
type EquivalenceChecker struct {
	llm     model.ToolCallingChatModel
	cache   Cache
	timeout time.Duration
	log     zerolog.Logger
}

// NewEquivalenceChecker cache 可以为 nil
func NewEquivalenceChecker(llm model.ToolCallingChatModel, cache Cache, timeout time.Duration) *EquivalenceChecker {
	if timeout <= 0 {
		timeout = constants.DefaultExtractionTimeout
	}
	return &EquivalenceChecker{
		llm:     llm,
		cache:   cache,
		timeout: timeout,
		log:     logger.Component("equivalence"),
	}
}

// Check 判断文凭 a 是否等价于文凭 b
func (c *EquivalenceChecker) Check(ctx context.Context, a, b string) (*types.EquivalenceResult, error) {
	if strings.TrimSpace(a) == "" {
		return nil, &ValidationError{Field: "diplomaA", Detail: "不能为空"}
	}
	if strings.TrimSpace(b) == "" {
		return nil, &ValidationError{Field: "diplomaB", Detail: "不能为空"}
	}
	if hashing.Normalize(a) == hashing.Normalize(b) {
		return &types.EquivalenceResult{Equivalent: true, Confidence: 1, Reason: "Diplômes identiques"}, nil
	}

	key := hashing.PairKey(constants.NamespaceEquivalence, a, b)
	var cached types.EquivalenceResult
	if c.cache != nil && c.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	if c.llm == nil {
		return nil, NewOracleError("equivalence", fmt.Errorf("未配置模型"))
	}

	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.Generate(gctx, []*schema.Message{
		schema.SystemMessage(equivalenceSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Diplôme A : %s\nDiplôme B : %s", a, b)),
	}, model.WithTemperature(0))
	if err != nil {
		return nil, NewOracleError("equivalence", err)
	}
	if resp == nil {
		return nil, NewOracleError("equivalence", parser.ErrEmptyOutput)
	}

	var result types.EquivalenceResult
	if err := parser.DecodeModelJSON(resp.Content, equivalenceSchema, &result); err != nil {
		c.log.Warn().Err(err).Msg("等价判断输出无法解析")
		return nil, NewOracleError("equivalence", err)
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, result)
	}
	return &result, nil
}
