package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"cvmatch-go/internal/logger"
	"cvmatch-go/internal/worker"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume async match requests from RabbitMQ and publish results",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	if cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("worker 需要配置 rabbitmq.url")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	w := worker.NewMatchWorker(application.storage.RabbitMQ, application.entry, application.weights,
		application.suggestions, cfg.RabbitMQ)
	done, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("启动匹配 worker 失败: %w", err)
	}

	<-done
	logger.Info().Msg("匹配 worker 已退出")
	return nil
}
