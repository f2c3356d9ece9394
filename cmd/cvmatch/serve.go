package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"cvmatch-go/internal/api/handler"
	"cvmatch-go/internal/api/router"
	"cvmatch-go/internal/config"
	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/worker"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/cobra"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Also consume async match requests from RabbitMQ")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	var workerDone <-chan struct{}
	if serveWithWorker {
		if application.storage.RabbitMQ == nil {
			return fmt.Errorf("--with-worker 需要配置 rabbitmq.url")
		}
		w := worker.NewMatchWorker(application.storage.RabbitMQ, application.entry, application.weights,
			application.suggestions, cfg.RabbitMQ)
		workerDone, err = w.Start(ctx)
		if err != nil {
			return fmt.Errorf("启动匹配 worker 失败: %w", err)
		}
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		logger.Debug().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("HTTP 请求")
	})

	mh := handler.NewMatchHandler(handler.Services{
		Matcher:     application.entry,
		Scorer:      application.matcher,
		Weights:     application.weights,
		Equivalence: application.equivalence,
		Education:   application.education,
		Suggestions: application.suggestions,
		Health:      application.cache,
	})
	router.RegisterRoutes(h, mh, cfg.Auth.APIKeys)
	hlog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("启动HTTP服务器失败: %w", err)
		}
	case <-ctx.Done():
		hlog.Info("接收到终止信号，正在优雅退出...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		config.GetDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		hlog.Errorf("服务器关闭失败: %v", err)
	}
	if workerDone != nil {
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
			hlog.Warn("等待 worker 退出超时")
		}
	}
	hlog.Info("优雅退出完成")
	return nil
}
