package storage

import (
	"context"
	"fmt"
	"strings"

	"cvmatch-go/internal/config"
	"cvmatch-go/internal/logger"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 消息队列，未配置时为 nil
	RabbitMQ *RabbitMQ

	// 键值存储，未配置时为 nil，结果缓存退回进程内存储
	Redis *Redis
}

// NewStorage 按配置初始化各存储组件。某个已配置的组件初始化失败时返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	log := logger.Component("storage")
	storage := &Storage{}
	var initErrors []string

	if cfg.Redis.Address != "" {
		log.Info().Str("address", cfg.Redis.Address).Msg("初始化Redis...")
		redis, err := NewRedisAdapter(&cfg.Redis)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		} else {
			storage.Redis = redis
		}
	} else {
		log.Info().Msg("Redis未配置, 使用进程内缓存")
	}

	if cfg.RabbitMQ.URL != "" {
		log.Info().Msg("初始化RabbitMQ...")
		mq, err := NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		} else {
			storage.RabbitMQ = mq
		}
	}

	if len(initErrors) > 0 {
		storage.Close()
		return nil, fmt.Errorf("存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := logger.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
