package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/services"
)

// statusFor 把服务层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRoomNotFound), errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRoomClosed):
		return http.StatusGone
	case errors.Is(err, services.ErrRoomAlreadyAssigned),
		errors.Is(err, services.ErrRoomNotPending),
		errors.Is(err, services.ErrRoomNotAssigned):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrLoginRequired), errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError 已知错误原样返回信息，其余错误只返回 fallback
func respondError(c echo.Context, err error, fallback string) error {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		msg = fallback
	}
	return c.JSON(status, map[string]string{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// bindAndValidate 绑定请求体并执行 validate 标签校验；失败时已写好 400 响应
func bindAndValidate(c echo.Context, req interface{}) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, badRequest(c, "invalid request")
	}
	if err := c.Validate(req); err != nil {
		return false, badRequest(c, err.Error())
	}
	return true, nil
}

type CustomValidator struct {
	validator *validator.Validate
}

func NewCustomValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
