package hintcache

import (
	"context"
	"encoding/json"
	"fmt"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/infrastructure/config"

	"github.com/go-redis/redis/v8"
)

// Service 可選的 Redis 後端。
// 設定 REDIS_ADDR 時跨執行共用解析提示，否則只用記憶體快取。
type Service struct {
	client *redis.Client
	config *config.CacheConfig
}

// NewService 創建快取服務，未設定 Redis 位址時 client 為 nil
func NewService(cfg *config.CacheConfig) (*Service, error) {
	if !cfg.Enabled || cfg.RedisAddr == "" {
		return &Service{config: cfg}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	// 測試連接
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{
		client: client,
		config: cfg,
	}, nil
}

// Get 獲取快取的解析提示
func (s *Service) Get(ctx context.Context, parser, text string) (*mealie.ParsedHint, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("cache is disabled")
	}

	data, err := s.client.Get(ctx, s.key(parser, text)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("cache miss")
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var hint mealie.ParsedHint
	if err := json.Unmarshal(data, &hint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache: %w", err)
	}
	return &hint, nil
}

// Set 寫入解析提示
func (s *Service) Set(ctx context.Context, parser, text string, hint *mealie.ParsedHint) error {
	if s == nil || s.client == nil {
		return nil
	}

	data, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("failed to marshal hint: %w", err)
	}

	if err := s.client.Set(ctx, s.key(parser, text), data, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Close 關閉 Redis 連線
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// key 生成快取鍵
func (s *Service) key(parser, text string) string {
	return "hint:" + Key(parser, text)
}
