package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hitomi/internal/api"
	"hitomi/internal/camera"
)

// RequestIDHeader はリクエストIDのヘッダー名
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "requestId"

// requestID はリクエストごとにIDを払い出す
// クライアントが指定したIDはそのまま使う
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// accessLog はリクエストの結果を記録する
func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		if op := api.OperationID(c); op != "" {
			fields = append(fields, zap.String("operation", op))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Warn("リクエスト", fields...)
		default:
			logger.Debug("リクエスト", fields...)
		}
	}
}

// recovery はハンドラのパニックを 500 に変換する
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		logger.Error("ハンドラでパニックが発生しました",
			zap.Any("panic", rec),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.MessageResponse{
			Success: false,
			Message: "Internal server error",
		})
	})
}

// corsMiddleware はCORSヘッダーを付与する
// origins が空なら全オリジンを許可する
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// requireDevice はデバイスを必要とするオペレーションを、利用不可の間 503 で拒否する
// リクエストボディの検証より前に実行される
func requireDevice(service camera.Service) api.MiddlewareFunc {
	return func(c *gin.Context) {
		if !api.RequiresDevice(api.OperationID(c)) {
			return
		}
		if !service.Available() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, api.MessageResponse{
				Success: false,
				Message: camera.UnavailableMessage,
			})
		}
	}
}
