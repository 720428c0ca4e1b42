package service

import (
	"context"
	"fmt"
	"log"

	"mediacredits/internal/mediaserver"
	"mediacredits/internal/store"
)

// MediaDirectory 按服务标签取媒体服务器，mediaserver.Registry 实现它
type MediaDirectory interface {
	For(serviceTag string) (mediaserver.Server, error)
}

// NameCache 用户名缓存，cache.NameCache 实现它
type NameCache interface {
	Get(ctx context.Context, service, externalID string) (string, bool, error)
	Set(ctx context.Context, service, externalID, name string) error
}

// IdentityResolver 把用户ID解析为显示名，只用于流水备注等审计文本，不参与鉴权
//
// 任何一步失败都退回 "user:<id>"，不会让业务操作失败
type IdentityResolver struct {
	store store.Store
	media MediaDirectory
	cache NameCache
}

func NewIdentityResolver(st store.Store, media MediaDirectory, cache NameCache) *IdentityResolver {
	return &IdentityResolver{store: st, media: media, cache: cache}
}

func fallbackName(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func (r *IdentityResolver) DisplayName(ctx context.Context, userID int64) string {
	if r == nil {
		return fallbackName(userID)
	}

	account, err := r.store.GetAccount(ctx, userID)
	if err != nil || account.ExternalID == "" {
		return fallbackName(userID)
	}

	if r.cache != nil {
		name, ok, err := r.cache.Get(ctx, account.ServiceTag, account.ExternalID)
		if err != nil {
			log.Printf("[IdentityResolver] 读取用户名缓存失败: userID=%d, err=%v", userID, err)
		} else if ok {
			return name
		}
	}

	if r.media == nil {
		return fallbackName(userID)
	}
	server, err := r.media.For(account.ServiceTag)
	if err != nil {
		return fallbackName(userID)
	}
	name, err := server.GetUsername(ctx, account.ExternalID)
	if err != nil || name == "" {
		log.Printf("[IdentityResolver] 查询媒体服务器用户名失败: userID=%d, err=%v", userID, err)
		return fallbackName(userID)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, account.ServiceTag, account.ExternalID, name); err != nil {
			log.Printf("[IdentityResolver] 写入用户名缓存失败: userID=%d, err=%v", userID, err)
		}
	}
	return name
}
