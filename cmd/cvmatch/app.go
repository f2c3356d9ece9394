package main

import (
	"context"
	"fmt"
	"time"

	"cvmatch-go/internal/cache"
	"cvmatch-go/internal/config"
	"cvmatch-go/internal/constants"
	"cvmatch-go/internal/llm"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/parser"
	"cvmatch-go/internal/processor"
	"cvmatch-go/internal/storage"
	"cvmatch-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
)

// LLM 任务名，对应 llm.task_models 中的键
const (
	taskExtract     = "extract"
	taskEquivalence = "equivalence"
	taskEducation   = "education"
	taskSuggestions = "suggestions"
)

// application 一次进程运行所需的全部组件
type application struct {
	cfg     *config.Config
	storage *storage.Storage
	cache   *cache.ResultCache

	// memStore 仅在未配置 Redis 时使用
	memStore *cache.MemoryStore

	matcher     *processor.Matcher
	entry       processor.CVMatcher
	weights     *processor.WeightResolver
	equivalence *processor.EquivalenceChecker
	education   *processor.EducationReference
	suggestions *processor.SuggestionGenerator

	shutdownTracing tracing.ShutdownFunc
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// initLogging 初始化全局 zerolog，并让 hertz 的 hlog 输出到同一个 logger
func initLogging(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	if cfg.Logger.Level == "debug" {
		hlog.SetLevel(hlog.LevelDebug)
	}
}

// newApplication 按配置装配存储、缓存、模型和匹配组件
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, constants.ServiceName, version)
	if err != nil {
		return nil, fmt.Errorf("初始化追踪失败: %w", err)
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	app := &application{
		cfg:             cfg,
		storage:         st,
		shutdownTracing: shutdownTracing,
	}

	var store cache.Store
	if st.Redis != nil {
		store = st.Redis
	} else {
		app.memStore = cache.NewMemoryStore()
		app.memStore.StartJanitor(cache.DefaultSweepInterval)
		store = app.memStore
	}
	app.cache = cache.New(store)

	timeout := config.GetDuration(cfg.Matching.ExtractionTimeout, constants.DefaultExtractionTimeout)

	models := llm.NewFactory(cfg)
	extractModel, err := models.ChatModel(ctx, taskExtract)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("初始化抽取模型失败: %w", err)
	}
	extractor := parser.NewLLMFeatureExtractor(extractModel)
	app.matcher = processor.NewMatcher(extractor,
		processor.WithCache(app.cache),
		processor.WithExtractionTimeout(timeout),
	)
	app.entry = app.matcher
	if cfg.Matching.CacheAnalysis {
		app.entry = processor.NewCachedMatcher(app.matcher, app.cache)
	}
	app.weights = processor.NewWeightResolver(cfg.Matching.Profiles, cfg.Matching.DefaultProfile)

	equivModel, err := models.ChatModel(ctx, taskEquivalence)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("初始化等价判断模型失败: %w", err)
	}
	app.equivalence = processor.NewEquivalenceChecker(equivModel, app.cache, timeout)

	eduModel, err := models.ChatModel(ctx, taskEducation)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("初始化学历查询模型失败: %w", err)
	}
	app.education = processor.NewEducationReference(eduModel, app.cache, timeout)

	suggestModel, err := models.ChatModel(ctx, taskSuggestions)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("初始化建议模型失败: %w", err)
	}
	app.suggestions = processor.NewSuggestionGenerator(suggestModel, app.cache, timeout)

	logger.Info().
		Bool("redis", st.Redis != nil).
		Bool("rabbitmq", st.RabbitMQ != nil).
		Bool("cache_analysis", cfg.Matching.CacheAnalysis).
		Dur("extraction_timeout", timeout).
		Msg("应用组件初始化完成")
	return app, nil
}

// Close 等待缓存后台任务，关闭连接并刷新追踪数据
func (a *application) Close(ctx context.Context) {
	if a.cache != nil {
		a.cache.Wait()
	}
	if a.memStore != nil {
		a.memStore.Close()
	}
	if a.storage != nil {
		a.storage.Close()
	}
	if a.shutdownTracing != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("关闭追踪失败")
		}
	}
}
