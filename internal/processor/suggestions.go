package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/narrative"
	"cvmatch-go/internal/parser"
	"cvmatch-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var baseSuggestionText = map[narrative.Criterion]string{
	narrative.CriterionTechnical:  "Mettez en avant les compétences techniques demandées dans l'offre, avec des projets concrets.",
	narrative.CriterionExperience: "Valorisez toutes vos expériences pertinentes, y compris stages, alternances et projets personnels.",
	narrative.CriterionEducation:  "Précisez vos diplômes et certifications, et indiquez les formations en cours.",
	narrative.CriterionSoftSkills: "Illustrez vos qualités relationnelles par des situations vécues.",
	narrative.CriterionCultural:   "Montrez votre adhésion aux valeurs de l'entreprise à travers vos engagements.",
}

const suggestionSystemPrompt = `Tu es un coach carrière. À partir de l'analyse d'adéquation entre un CV et une offre,
reformule et complète les pistes d'amélioration du CV. Chaque suggestion cible un critère parmi
"technical", "experience", "education", "softSkills", "cultural", avec une priorité "high", "medium" ou "low".
Réponds UNIQUEMENT en JSON : {"suggestions": [{"criterion": "...", "priority": "...", "text": "..."}]}`

var suggestionSchema = parser.CompileSchema(`{
  "type": "object",
  "required": ["suggestions"],
  "properties": {
    "suggestions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["criterion", "priority", "text"],
        "properties": {
          "criterion": {"enum": ["technical", "experience", "education", "softSkills", "cultural"]},
          "priority": {"enum": ["high", "medium", "low"]},
          "text": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`)

// SuggestionGenerator 针对 (cv, job) 生成简历改进建议，缓存 2 小时。
// 模型不可用或输出非法时退回规则生成的建议
type SuggestionGenerator struct {
	llm     model.ToolCallingChatModel
	cache   Cache
	timeout time.Duration
	log     zerolog.Logger
}

// NewSuggestionGenerator llm 和 cache 都可以为 nil
func NewSuggestionGenerator(llm model.ToolCallingChatModel, cache Cache, timeout time.Duration) *SuggestionGenerator {
	if timeout <= 0 {
		timeout = constants.DefaultExtractionTimeout
	}
	return &SuggestionGenerator{
		llm:     llm,
		cache:   cache,
		timeout: timeout,
		log:     logger.Component("suggestions"),
	}
}

// BaseSuggestions 每个需要改进的维度一条建议，分数越低优先级越高
func BaseSuggestions(b types.Breakdown) []types.Suggestion {
	out := []types.Suggestion{}
	for _, v := range narrative.Classify(b) {
		if v.Category != narrative.CategoryImprovement {
			continue
		}
		out = append(out, types.Suggestion{
			Criterion: string(v.Criterion),
			Priority:  priorityFor(v.Score),
			Text:      baseSuggestionText[v.Criterion],
		})
	}
	return out
}

func priorityFor(score float64) string {
	switch {
	case score < 0.3:
		return PriorityHigh
	case score < 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Generate 返回建议列表。result 为同一对文本的匹配结果
func (g *SuggestionGenerator) Generate(ctx context.Context, cvText, jobText string, result *types.MatchResult) ([]types.Suggestion, error) {
	if result == nil {
		return nil, &ValidationError{Field: "result", Detail: "不能为空"}
	}

	key := hashing.PairKey(constants.NamespaceSuggestions, cvText, jobText)
	var cached []types.Suggestion
	if g.cache != nil && g.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	base := BaseSuggestions(result.Breakdown)
	suggestions := base
	// 模型临时失败时返回规则建议但不缓存，下次请求会再尝试模型
	cacheable := true
	if g.llm != nil && len(base) > 0 {
		refined, err := g.refine(ctx, result, base)
		if err != nil {
			g.log.Warn().Err(err).Msg("模型生成建议失败，使用规则建议")
			cacheable = false
		} else if len(refined) > 0 {
			suggestions = refined
		}
	}

	if g.cache != nil && cacheable {
		g.cache.Set(ctx, key, suggestions)
	}
	return suggestions, nil
}

func (g *SuggestionGenerator) refine(ctx context.Context, result *types.MatchResult, base []types.Suggestion) ([]types.Suggestion, error) {
	analysis, err := json.Marshal(struct {
		Breakdown    types.Breakdown    `json:"breakdown"`
		Strengths    []string           `json:"strengths"`
		Improvements []string           `json:"improvements"`
		Draft        []types.Suggestion `json:"draft"`
	}{result.Breakdown, result.Strengths, result.Improvements, base})
	if err != nil {
		return nil, fmt.Errorf("序列化分析结果失败: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.llm.Generate(gctx, []*schema.Message{
		schema.SystemMessage(suggestionSystemPrompt),
		schema.UserMessage(string(analysis)),
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, parser.ErrEmptyOutput
	}

	var out struct {
		Suggestions []types.Suggestion `json:"suggestions"`
	}
	if err := parser.DecodeModelJSON(resp.Content, suggestionSchema, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}
