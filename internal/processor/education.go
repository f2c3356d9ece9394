package processor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/parser"
	"cvmatch-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	SourceTable   = "table"
	SourceLLM     = "llm"
	SourceUnknown = "unknown"
)

// diplomaRule 按顺序匹配，更具体的短语排在前面
type diplomaRule struct {
	phrases [][]string
	level   string
	rncp    int
}

var diplomaTable = []diplomaRule{
	{phrases: [][]string{{"doctorat"}, {"phd"}, {"bac+8"}, {"these"}}, level: "Bac+8", rncp: 8},
	{phrases: [][]string{{"master", "1"}, {"m1"}, {"maitrise"}, {"bac+4"}}, level: "Bac+4", rncp: 6},
	{phrases: [][]string{{"master"}, {"m2"}, {"mba"}, {"msc"}, {"ingenieur"}, {"dea"}, {"dess"}, {"bac+5"}}, level: "Bac+5", rncp: 7},
	{phrases: [][]string{{"licence"}, {"bachelor"}, {"but"}, {"bac+3"}}, level: "Bac+3", rncp: 6},
	{phrases: [][]string{{"bts"}, {"dut"}, {"deug"}, {"deust"}, {"bac+2"}}, level: "Bac+2", rncp: 5},
	{phrases: [][]string{{"baccalaureat"}, {"bac"}}, level: "Bac", rncp: 4},
	{phrases: [][]string{{"cap"}, {"bep"}}, level: "CAP/BEP", rncp: 3},
}

var accentFolding = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a", "î", "i", "ï", "i",
	"ô", "o", "ö", "o", "û", "u", "ù", "u", "ü", "u", "ç", "c",
)

// tokenize 小写、去重音，按非字母数字切分。'+' 保留以识别 "bac+5"
func tokenize(s string) []string {
	s = accentFolding.Replace(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+'
	})
}

func containsPhrase(tokens, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, p := range phrase {
			if tokens[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// LookupDiplomaTable 只查静态表，找不到时 ok 为 false
func LookupDiplomaTable(input string) (types.EducationLevel, bool) {
	tokens := tokenize(input)
	for _, rule := range diplomaTable {
		for _, phrase := range rule.phrases {
			if containsPhrase(tokens, phrase) {
				return types.EducationLevel{
					Input:     input,
					Level:     rule.level,
					RNCPLevel: rule.rncp,
					Source:    SourceTable,
				}, true
			}
		}
	}
	return types.EducationLevel{}, false
}

const educationSystemPrompt = `Tu es un expert du système éducatif français.
Pour l'intitulé de diplôme fourni, donne son niveau au format "Bac", "Bac+2", "Bac+3", "Bac+4", "Bac+5" ou "Bac+8"
et son niveau RNCP (3 à 8, 0 si inconnu). Réponds UNIQUEMENT en JSON :
{"level": "Bac+5", "rncpLevel": 7}`

var educationSchema = parser.CompileSchema(`{
  "type": "object",
  "required": ["level", "rncpLevel"],
  "properties": {
    "level": {"type": "string"},
    "rncpLevel": {"type": "integer", "minimum": 0, "maximum": 8}
  }
}`)

// EducationReference 把自由文本的法国文凭映射到标准等级。
// 先查静态表，再查 french 缓存，最后询问模型并缓存 30 天
type EducationReference struct {
	llm     model.ToolCallingChatModel
	cache   Cache
	timeout time.Duration
	log     zerolog.Logger
}

// NewEducationReference llm 和 cache 都可以为 nil
func NewEducationReference(llm model.ToolCallingChatModel, cache Cache, timeout time.Duration) *EducationReference {
	if timeout <= 0 {
		timeout = constants.DefaultExtractionTimeout
	}
	return &EducationReference{
		llm:     llm,
		cache:   cache,
		timeout: timeout,
		log:     logger.Component("education"),
	}
}

// Normalize 返回标准化的学历等级。静态表和模型都无法识别时返回 Source=unknown，不视为错误
func (r *EducationReference) Normalize(ctx context.Context, input string) (*types.EducationLevel, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &ValidationError{Field: "diploma", Detail: "不能为空"}
	}
	if lvl, ok := LookupDiplomaTable(input); ok {
		return &lvl, nil
	}

	key := hashing.Key(constants.NamespaceFrench, input)
	var cached types.EducationLevel
	if r.cache != nil && r.cache.Get(ctx, key, &cached) {
		cached.Input = input
		return &cached, nil
	}

	unknown := &types.EducationLevel{Input: input, Source: SourceUnknown}
	if r.llm == nil {
		return unknown, nil
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	resp, err := r.llm.Generate(gctx, []*schema.Message{
		schema.SystemMessage(educationSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Diplôme : %s", input)),
	}, model.WithTemperature(0))
	if err != nil {
		return nil, NewOracleError("education", err)
	}
	if resp == nil {
		return nil, NewOracleError("education", parser.ErrEmptyOutput)
	}

	var out struct {
		Level     string `json:"level"`
		RNCPLevel int    `json:"rncpLevel"`
	}
	if err := parser.DecodeModelJSON(resp.Content, educationSchema, &out); err != nil {
		r.log.Warn().Err(err).Msg("学历查询输出无法解析")
		return nil, NewOracleError("education", err)
	}

	lvl := types.EducationLevel{
		Input:     input,
		Level:     strings.TrimSpace(out.Level),
		RNCPLevel: out.RNCPLevel,
		Source:    SourceLLM,
	}
	if lvl.Level == "" {
		return unknown, nil
	}
	if r.cache != nil {
		r.cache.Set(ctx, key, lvl)
	}
	return &lvl, nil
}
