package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/services"
)

const userKey = "user"

// extractToken 优先取 Authorization 头，长连接握手时退回到 token 查询参数
func extractToken(c echo.Context) (string, bool, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", true, services.ErrInvalidToken
		}
		return parts[1], true, nil
	}
	token := strings.TrimSpace(strings.TrimPrefix(c.QueryParam("token"), "Bearer "))
	return token, token != "", nil
}

func authenticate(c echo.Context, authService *services.AuthService) (bool, error) {
	token, present, err := extractToken(c)
	if err != nil {
		return present, c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid authorization header",
		})
	}
	if !present {
		return false, nil
	}
	claims, err := authService.ValidateToken(token)
	if err != nil {
		return true, c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid token",
		})
	}
	c.Set(userKey, claims.User())
	return true, nil
}

// AuthMiddleware 必须登录
func AuthMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			present, err := authenticate(c, authService)
			if err != nil || c.Response().Committed {
				return err
			}
			if !present {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing authorization token",
				})
			}
			return next(c)
		}
	}
}

// OptionalAuthMiddleware 带了令牌就校验，没带按游客处理
func OptionalAuthMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := authenticate(c, authService); err != nil || c.Response().Committed {
				return err
			}
			return next(c)
		}
	}
}

// AgentMiddleware 仅客服、主管和管理员可访问
func AgentMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := CurrentUser(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "unauthorized",
				})
			}
			if !user.Role.IsAgent() {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "support role required",
				})
			}
			return next(c)
		}
	}
}

func CurrentUser(c echo.Context) (*models.User, bool) {
	user, ok := c.Get(userKey).(*models.User)
	return user, ok && user != nil
}
