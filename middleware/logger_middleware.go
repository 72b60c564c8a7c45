package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/Breeze1203/shophub-support/logger"
)

// RequestLogger 把访问日志写进 zap
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	log = log.With("component", "http")
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			kv := []interface{}{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
			}
			if v.RequestID != "" {
				kv = append(kv, "request_id", v.RequestID)
			}
			if v.Error != nil {
				log.Warn("request failed", append(kv, "error", v.Error)...)
				return nil
			}
			log.Info("request", kv...)
			return nil
		},
	})
}
