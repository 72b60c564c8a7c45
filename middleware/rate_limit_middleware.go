package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/limiter"
	"github.com/Breeze1203/shophub-support/logger"
)

const GuestSessionHeader = "X-Guest-Session"

type RateLimitConfig struct {
	Prefix  string                      // key 前缀，区分不同接口
	KeyFunc func(c echo.Context) string // 自定义 Key 生成器
}

// SenderKey 登录用户按账号，游客按会话令牌，都没有时按 IP
func SenderKey(c echo.Context) string {
	if user, ok := CurrentUser(c); ok {
		return "user:" + strconv.FormatUint(uint64(user.ID), 10)
	}
	if session := c.Request().Header.Get(GuestSessionHeader); session != "" {
		return "guest:" + session
	}
	return "ip:" + c.RealIP()
}

func NewRateLimitMiddleware(manager *limiter.Manager, config RateLimitConfig, log *logger.Logger) echo.MiddlewareFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = SenderKey
	}
	if log == nil {
		log = logger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// 加上前缀防止 Key 冲突
			redisKey := fmt.Sprintf("limiter:%s:%s", config.Prefix, config.KeyFunc(c))
			allowed, err := manager.Allow(c.Request().Context(), redisKey)
			if err != nil {
				// Redis 报错时放行，避免 Redis 故障导致客服不可用
				log.Warn("rate limit check failed", "key", redisKey, "error", err)
				return next(c)
			}
			if !allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests",
				})
			}
			return next(c)
		}
	}
}
