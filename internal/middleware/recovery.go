package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery はハンドラー内のパニックを回復し、500 を返します。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				traceID := GetTraceID(c.Request.Context())
				logger.Error("panic recovered",
					zap.String("trace_id", traceID),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":     "INTERNAL_ERROR",
					"message":  "サーバー内部でエラーが発生しました。",
					"trace_id": traceID,
				})
			}
		}()
		c.Next()
	}
}
