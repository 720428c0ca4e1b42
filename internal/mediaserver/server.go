// Package mediaserver 媒体服务器客户端
//
// Plex 和 Emby 都实现 Server 接口，业务代码按账户的 service_tag 通过 Registry 取对应实现，
// 不再为两种服务器各写一套流程。
package mediaserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/model"
)

// Server 媒体服务器能力
type Server interface {
	// AddLibraryAccess 给用户开放受限媒体库
	AddLibraryAccess(ctx context.Context, externalID string) error
	// RemoveLibraryAccess 收回受限媒体库
	RemoveLibraryAccess(ctx context.Context, externalID string) error
	// GetUsername 查询用户在媒体服务器上的显示名
	GetUsername(ctx context.Context, externalID string) (string, error)
}

// StatusError 媒体服务器返回了非 2xx
type StatusError struct {
	Server     string
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s 返回状态码 %d", e.Server, e.Op, e.StatusCode)
}

// Registry 按服务标签选择 Server
type Registry struct {
	servers map[string]Server
}

func NewRegistry(servers map[string]Server) *Registry {
	normalized := make(map[string]Server, len(servers))
	for tag, s := range servers {
		normalized[strings.ToLower(tag)] = s
	}
	return &Registry{servers: normalized}
}

// NewRegistryFromConfig 只注册配置了 base_url 的服务器
func NewRegistryFromConfig(cfg *config.MediaConfig) *Registry {
	servers := make(map[string]Server)
	if cfg.Plex.BaseURL != "" {
		servers[model.ServicePlex] = NewPlexClient(cfg.Plex)
	}
	if cfg.Emby.BaseURL != "" {
		servers[model.ServiceEmby] = NewEmbyClient(cfg.Emby)
	}
	return NewRegistry(servers)
}

func (r *Registry) For(serviceTag string) (Server, error) {
	s, ok := r.servers[strings.ToLower(serviceTag)]
	if !ok {
		return nil, errs.Invalid("未配置媒体服务器: %q", serviceTag)
	}
	return s, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
