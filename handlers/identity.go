package handlers

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/middleware"
	"github.com/Breeze1203/shophub-support/services"
)

// identityFrom 登录用户按账号识别，否则按游客会话令牌
func identityFrom(c echo.Context, bodySession string) services.Identity {
	if user, ok := middleware.CurrentUser(c); ok {
		return services.AccountIdentity(user)
	}
	return services.GuestIdentity(guestSession(c, bodySession))
}

// guestSession 依次取请求头、请求体、session 查询参数
func guestSession(c echo.Context, bodySession string) string {
	if s := strings.TrimSpace(c.Request().Header.Get(middleware.GuestSessionHeader)); s != "" {
		return s
	}
	if s := strings.TrimSpace(bodySession); s != "" {
		return s
	}
	return strings.TrimSpace(c.QueryParam("session"))
}

// afterCursor 解析 after 查询参数，缺省为 0
func afterCursor(c echo.Context) (uint64, bool) {
	raw := c.QueryParam("after")
	if raw == "" {
		return 0, true
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return after, true
}
