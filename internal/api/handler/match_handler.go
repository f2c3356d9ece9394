package handler

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/processor"
	"cvmatch-go/internal/tracing"
	"cvmatch-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Scorer 对已抽取的特征直接评分
type Scorer interface {
	ScoreFeatures(cv, job types.FeatureSet, w types.WeightConfig) (*types.MatchResult, error)
}

// HealthChecker 存储层探活
type HealthChecker interface {
	TestConnection(ctx context.Context) bool
}

// Services 处理器依赖的业务组件。Equivalence、Education、Suggestions 为 nil 时对应接口返回 503
type Services struct {
	Matcher     processor.CVMatcher
	Scorer      Scorer
	Weights     *processor.WeightResolver
	Equivalence *processor.EquivalenceChecker
	Education   *processor.EducationReference
	Suggestions *processor.SuggestionGenerator
	Health      HealthChecker
}

// MatchHandler 匹配相关的 HTTP 接口
type MatchHandler struct {
	svc      Services
	validate *validator.Validate
	log      zerolog.Logger
}

// NewMatchHandler 创建处理器
func NewMatchHandler(svc Services) *MatchHandler {
	v := validator.New()
	// 校验错误里使用 json 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if svc.Weights == nil {
		svc.Weights = processor.NewWeightResolver(nil, "")
	}
	return &MatchHandler{
		svc:      svc,
		validate: v,
		log:      logger.Component("api"),
	}
}

// MatchRequest POST /api/v1/match
type MatchRequest struct {
	CVText  string              `json:"cvText" validate:"required"`
	JobText string              `json:"jobText" validate:"required"`
	Profile string              `json:"profile,omitempty"`
	Weights *types.WeightConfig `json:"weights,omitempty"`
}

// ScoreRequest POST /api/v1/score
type ScoreRequest struct {
	CV      *types.FeatureSet   `json:"cv" validate:"required"`
	Job     *types.FeatureSet   `json:"job" validate:"required"`
	Profile string              `json:"profile,omitempty"`
	Weights *types.WeightConfig `json:"weights,omitempty"`
}

// EquivalenceRequest POST /api/v1/equivalence
type EquivalenceRequest struct {
	DiplomaA string `json:"diplomaA" validate:"required"`
	DiplomaB string `json:"diplomaB" validate:"required"`
}

// EducationRequest POST /api/v1/education/normalize
type EducationRequest struct {
	Diploma string `json:"diploma" validate:"required"`
}

// SuggestionsResponse 建议接口的响应，附带匹配结果
type SuggestionsResponse struct {
	Suggestions []types.Suggestion `json:"suggestions"`
	Match       *types.MatchResult `json:"match"`
}

// bind 解析 JSON 请求体并校验，失败时已写好 400 响应
func (h *MatchHandler) bind(c *app.RequestContext, dst any) bool {
	if err := json.Unmarshal(c.Request.Body(), dst); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON", "detail": err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "参数校验失败", "fields": validationFields(err)})
		return false
	}
	return true
}

func validationFields(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

// writeError 按错误类型映射状态码
func (h *MatchHandler) writeError(ctx context.Context, c *app.RequestContext, err error) {
	var ve *processor.ValidationError
	status := consts.StatusInternalServerError
	body := utils.H{"error": "internal", "detail": err.Error()}
	switch {
	case errors.As(err, &ve):
		status = consts.StatusBadRequest
		body = utils.H{"error": "validation", "field": ve.Field, "detail": ve.Detail}
	case processor.IsExtractionError(err) && errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Msg("抽取超时")
		status = consts.StatusGatewayTimeout
		body = utils.H{"error": "extraction", "detail": "模型调用超时"}
	case processor.IsExtractionError(err):
		h.log.Warn().Err(err).Msg("抽取失败")
		status = consts.StatusBadGateway
		body = utils.H{"error": "extraction", "detail": err.Error()}
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("请求处理失败")
	}
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)
	c.JSON(status, body)
}

// HandleMatch 完整匹配：抽取、评分和说明
func (h *MatchHandler) HandleMatch(ctx context.Context, c *app.RequestContext) {
	var req MatchRequest
	if !h.bind(c, &req) {
		return
	}
	w, err := h.svc.Weights.Resolve(req.Profile, req.Weights)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}

	result, err := h.svc.Matcher.MatchCvToJob(ctx, req.CVText, req.JobText, w)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleScore 对调用方给出的两个 FeatureSet 评分，不调用模型
func (h *MatchHandler) HandleScore(ctx context.Context, c *app.RequestContext) {
	var req ScoreRequest
	if !h.bind(c, &req) {
		return
	}
	if h.svc.Scorer == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "评分服务未启用"})
		return
	}
	w, err := h.svc.Weights.Resolve(req.Profile, req.Weights)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}

	result, err := h.svc.Scorer.ScoreFeatures(*req.CV, *req.Job, w)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleEquivalence 判断文凭 A 是否等价于文凭 B
func (h *MatchHandler) HandleEquivalence(ctx context.Context, c *app.RequestContext) {
	var req EquivalenceRequest
	if !h.bind(c, &req) {
		return
	}
	if h.svc.Equivalence == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "等价判断服务未启用"})
		return
	}

	result, err := h.svc.Equivalence.Check(ctx, req.DiplomaA, req.DiplomaB)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleEducation 学历标准化
func (h *MatchHandler) HandleEducation(ctx context.Context, c *app.RequestContext) {
	var req EducationRequest
	if !h.bind(c, &req) {
		return
	}
	if h.svc.Education == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "学历查询服务未启用"})
		return
	}

	lvl, err := h.svc.Education.Normalize(ctx, req.Diploma)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, lvl)
}

// HandleSuggestions 先匹配，再基于匹配结果生成改进建议
func (h *MatchHandler) HandleSuggestions(ctx context.Context, c *app.RequestContext) {
	var req MatchRequest
	if !h.bind(c, &req) {
		return
	}
	if h.svc.Suggestions == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "建议服务未启用"})
		return
	}
	w, err := h.svc.Weights.Resolve(req.Profile, req.Weights)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}

	result, err := h.svc.Matcher.MatchCvToJob(ctx, req.CVText, req.JobText, w)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	suggestions, err := h.svc.Suggestions.Generate(ctx, req.CVText, req.JobText, result)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, SuggestionsResponse{Suggestions: suggestions, Match: result})
}

// HandleProfiles 列出可用的权重配置
func (h *MatchHandler) HandleProfiles(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"profiles": h.svc.Weights.Names()})
}

// HandleHealth 服务存活，并报告缓存连接状态
func (h *MatchHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	cacheOK := h.svc.Health != nil && h.svc.Health.TestConnection(ctx)
	c.JSON(consts.StatusOK, utils.H{"status": "ok", "cache": cacheOK})
}
