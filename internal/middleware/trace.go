// Package middleware は gin 用の共通ミドルウェア（トレースID・アクセスログ・パニック回復）です。
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type contextKey string

// TraceIDKey はリクエストコンテキストにトレースIDを格納するキーです。
const TraceIDKey contextKey = "trace_id"

// TraceIDHeader はトレースIDを受け渡しする HTTP ヘッダです。
const TraceIDHeader = "X-Trace-ID"

// TraceID はリクエストにトレースIDを付与します。クライアントが送ってきた値があればそれを使います。
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(string(TraceIDKey), traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), TraceIDKey, traceID))
		c.Header(TraceIDHeader, traceID)
		c.Next()
	}
}

// GetTraceID はコンテキストからトレースIDを取り出します。
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
