package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mediacredits/internal/config"

	"github.com/go-redis/redis/v8"
)

func NewRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Println("Redis 连接成功")
	return client, nil
}

// NameCache 缓存媒体服务器上的用户名，只用于审计备注，允许过期数据
type NameCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewNameCache(client *redis.Client, ttl time.Duration) *NameCache {
	return &NameCache{client: client, ttl: ttl}
}

func nameKey(service, externalID string) string {
	return fmt.Sprintf("credits:name:%s:%s", service, externalID)
}

// Get 未命中时返回 ok=false, err=nil
func (c *NameCache) Get(ctx context.Context, service, externalID string) (string, bool, error) {
	name, err := c.client.Get(ctx, nameKey(service, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (c *NameCache) Set(ctx context.Context, service, externalID, name string) error {
	return c.client.Set(ctx, nameKey(service, externalID), name, c.ttl).Err()
}
