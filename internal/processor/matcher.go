// Package processor 编排一次 CV 与岗位的匹配：校验、特征抽取 (带缓存)、评分和文字说明。
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/hashing"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/narrative"
	"cvmatch-go/internal/scoring"
	"cvmatch-go/internal/tracing"
	"cvmatch-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("cvmatch-go/processor")

// Matcher 匹配编排器，可并发使用
type Matcher struct {
	extractor FeatureExtractor
	cache     Cache
	assessor  AuthenticityAssessor
	timeout   time.Duration
	minLength int
	log       zerolog.Logger
}

// MatcherOption Matcher 的可选配置
type MatcherOption func(*Matcher)

// WithCache 设置特征缓存，nil 表示不缓存
func WithCache(c Cache) MatcherOption {
	return func(m *Matcher) { m.cache = c }
}

// WithAssessor 替换默认的规则可信度评估
func WithAssessor(a AuthenticityAssessor) MatcherOption {
	return func(m *Matcher) {
		if a != nil {
			m.assessor = a
		}
	}
}

// WithExtractionTimeout 单次抽取调用的超时
func WithExtractionTimeout(d time.Duration) MatcherOption {
	return func(m *Matcher) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMatcherLogger 替换默认 logger
func WithMatcherLogger(l zerolog.Logger) MatcherOption {
	return func(m *Matcher) { m.log = l }
}

// NewMatcher 创建匹配编排器
func NewMatcher(extractor FeatureExtractor, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		extractor: extractor,
		assessor:  RuleAuthenticityAssessor{},
		timeout:   constants.DefaultExtractionTimeout,
		minLength: constants.MinDocumentLength,
		log:       logger.Component("matcher"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate 检查输入是否满足前置条件，不做任何外部调用。
// 长度按原始字符数计算，不去除空白
func (m *Matcher) Validate(cvText, jobText string, w types.WeightConfig) error {
	if n := utf8.RuneCountInString(cvText); n < m.minLength {
		return NewTooShortError("cvText", n, m.minLength)
	}
	if n := utf8.RuneCountInString(jobText); n < m.minLength {
		return NewTooShortError("jobText", n, m.minLength)
	}
	if err := scoring.Validate(w); err != nil {
		return NewWeightsError(err)
	}
	return nil
}

// MatchCvToJob 匹配一份简历和一个岗位。
// 两次抽取并发执行，任意一次失败都返回 ExtractionError，不返回部分结果
func (m *Matcher) MatchCvToJob(ctx context.Context, cvText, jobText string, w types.WeightConfig) (*types.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "Matcher.MatchCvToJob")
	defer span.End()

	if err := m.Validate(cvText, jobText, w); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	cvFP := hashing.Fingerprint(cvText)
	jobFP := hashing.Fingerprint(jobText)
	span.SetAttributes(
		attribute.String("match.cv_fingerprint", cvFP[:12]),
		attribute.String("match.job_fingerprint", jobFP[:12]),
	)

	var cvFeatures, jobFeatures types.FeatureSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fs, err := m.features(gctx, cvText, cvFP, types.RoleCV)
		if err != nil {
			return err
		}
		cvFeatures = fs
		return nil
	})
	g.Go(func() error {
		fs, err := m.features(gctx, jobText, jobFP, types.RoleJob)
		if err != nil {
			return err
		}
		jobFeatures = fs
		return nil
	})
	if err := g.Wait(); err != nil {
		errType := tracing.ErrorTypeExtraction
		if errors.Is(err, context.DeadlineExceeded) {
			errType = tracing.ErrorTypeTimeout
		}
		tracing.RecordError(span, err, errType)
		return nil, err
	}

	result := m.assemble(cvFeatures, jobFeatures, w)
	span.SetAttributes(
		attribute.Float64("match.overall_score", result.OverallScore),
		attribute.String("match.level", result.MatchLevel),
	)
	span.SetStatus(codes.Ok, "")

	m.log.Info().
		Str("cv", cvFP[:12]).
		Str("job", jobFP[:12]).
		Float64("score", result.OverallScore).
		Str("level", result.MatchLevel).
		Msg("匹配完成")
	return result, nil
}

// ScoreFeatures 直接对两组已知特征评分，不抽取也不访问缓存
func (m *Matcher) ScoreFeatures(cv, job types.FeatureSet, w types.WeightConfig) (*types.MatchResult, error) {
	if err := scoring.Validate(w); err != nil {
		return nil, NewWeightsError(err)
	}
	return m.assemble(cv, job, w), nil
}

// Features 返回单个文档的特征，先查 emb 缓存，未命中时调用抽取器并写回缓存
func (m *Matcher) Features(ctx context.Context, text string, role types.Role) (types.FeatureSet, error) {
	return m.features(ctx, text, hashing.Fingerprint(text), role)
}

func (m *Matcher) features(ctx context.Context, text, fp string, role types.Role) (types.FeatureSet, error) {
	key := hashing.KeyFromFingerprint(constants.NamespaceEmbedding, fp)

	var fs types.FeatureSet
	if m.cache != nil && m.cache.Get(ctx, key, &fs) {
		m.log.Debug().Str("role", string(role)).Str("fingerprint", fp[:12]).Msg("特征缓存命中")
		return fs, nil
	}

	fs, err := m.extract(ctx, text, role)
	if err != nil {
		m.log.Warn().Err(err).Str("role", string(role)).Str("fingerprint", fp[:12]).Msg("特征抽取失败")
		return types.FeatureSet{}, NewExtractionError(role, err)
	}

	if m.cache != nil {
		m.cache.Set(ctx, key, fs)
	}
	return fs, nil
}

type extractResult struct {
	fs  types.FeatureSet
	err error
}

// extract 即使抽取器不遵守 ctx，也在超时后返回
func (m *Matcher) extract(ctx context.Context, text string, role types.Role) (types.FeatureSet, error) {
	if m.extractor == nil {
		return types.FeatureSet{}, fmt.Errorf("未配置特征抽取器")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan extractResult, 1)
	go func() {
		fs, err := m.extractor.Extract(ctx, text, role)
		done <- extractResult{fs: fs, err: err}
	}()

	select {
	case r := <-done:
		return r.fs, r.err
	case <-ctx.Done():
		return types.FeatureSet{}, fmt.Errorf("抽取超时或被取消: %w", ctx.Err())
	}
}

func (m *Matcher) assemble(cv, job types.FeatureSet, w types.WeightConfig) *types.MatchResult {
	sb := scoring.Score(cv, job, w)
	strengths, improvements, steps := narrative.Generate(sb.Breakdown)

	return &types.MatchResult{
		OverallScore: sb.OverallScore,
		MatchLevel:   sb.MatchLevel,
		Breakdown:    sb.Breakdown,
		Strengths:    strengths,
		Improvements: improvements,
		NextSteps:    steps,
		Authenticity: m.assessor.Assess(cv),
	}
}

var _ CVMatcher = (*Matcher)(nil)
