package handler

import (
	"crypto/subtle"
	"log"
	"net/http"
	"sync"
	"time"

	"mediacredits/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// LoggerMiddleware 访问日志，顺带给每个请求分配 X-Request-ID
//
// 调用方传了 X-Request-ID 就沿用，方便和机器人侧的日志对上
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s | %s",
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
			c.Request.Method,
			path,
			requestID,
		)
	}
}

// RecoveryMiddleware 恢复中间件，单个请求 panic 不影响其他请求
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %s request_id=%s: %v", c.Request.Method, c.Request.URL.Path, c.GetString("request_id"), err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Admin-Token")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AdminAuthMiddleware 管理员接口鉴权，请求头 X-Admin-Token 必须与配置一致
//
// 未配置 token 时管理员接口全部拒绝
func AdminAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Printf("[AdminAuth] 拒绝管理员请求: %s %s from %s", c.Request.Method, c.Request.URL.Path, c.ClientIP())
			response.Unauthorized(c, "管理员令牌无效")
			return
		}
		c.Next()
	}
}

// userLimiter 按用户ID分别限流
//
// user_id 来自请求体，不可信，所以每分钟清理一次令牌已回满的限流器，
// map 里只留最近一分钟内活跃的用户
type userLimiter struct {
	mu        sync.Mutex
	limiters  map[int64]*rate.Limiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

const limiterSweepInterval = time.Minute

// newUserLimiter perMinute <= 0 时返回 nil，即不限流
func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &userLimiter{
		limiters:  make(map[int64]*rate.Limiter),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     perMinute,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *userLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		l.sweep(now)
	}
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	return limiter.AllowN(now, 1)
}

// sweep 删除令牌已回满的限流器，回满的和新建的没有区别
func (l *userLimiter) sweep(now time.Time) {
	for id, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, id)
		}
	}
	l.lastSweep = now
}
