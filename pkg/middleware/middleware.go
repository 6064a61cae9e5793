// Package middleware 提供运维 HTTP 接口的 Gin 中间件（请求日志、request id、panic recover）
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wyfcoding/marketfeed/pkg/logger"
)

// RequestIDKey gin.Context 中 request id 的键
const RequestIDKey = "request_id"

// HeaderRequestID 请求和响应中携带 request id 的 Header
const HeaderRequestID = "X-Request-ID"

// GinLogging 请求日志中间件
// 沿用调用方传入的 X-Request-ID，否则生成新的；请求级 logger 放入 Request.Context
func GinLogging(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)

		reqLogger := l.With("request_id", requestID)
		ctx := logger.WithLogger(c.Request.Context(), reqLogger)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"client_ip", c.ClientIP(),
			"response_size", c.Writer.Size(),
			"duration", time.Since(start),
		}
		switch {
		case status >= http.StatusInternalServerError:
			reqLogger.ErrorContext(ctx, "HTTP request failed", args...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			// 探活与抓取请求太频繁
			reqLogger.DebugContext(ctx, "HTTP request completed", args...)
		default:
			reqLogger.InfoContext(ctx, "HTTP request completed", args...)
		}
	}
}

// GinRecovery panic 恢复中间件
func GinRecovery(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get(RequestIDKey)
				l.ErrorContext(c.Request.Context(), "HTTP request panicked",
					"request_id", requestID,
					"path", c.Request.URL.Path,
					"panic", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}
