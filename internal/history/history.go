// Package history はブラウザのセッションに、そのブラウザから投入したジョブIDを記録します。
// 認証はしないので、一覧はあくまで利用者の手元の履歴です。
package history

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/shape-forge/internal/convert"
	"github.com/yourusername/shape-forge/internal/jobs"
)

const (
	SessionCookieName = "sf_session"
	sessionKeyJobs    = "recent_jobs"

	// MaxJobs はセッションに残すジョブIDの上限です。
	MaxJobs = 20
)

var sessionLifetime = 24 * time.Hour

// Sessions はクッキーに署名付きで保存するセッションのミドルウェアを返します。
func Sessions(secret string, secure bool) gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(SessionCookieName, store)
}

// IDs はセッションに記録されたジョブIDを新しい順に返します。
func IDs(c *gin.Context) []string {
	raw, _ := sessions.Default(c).Get(sessionKeyJobs).(string)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Remember は jobID を履歴の先頭に追加して保存します。
func Remember(c *gin.Context, jobID string) error {
	ids := []string{jobID}
	for _, id := range IDs(c) {
		if id != jobID && len(ids) < MaxJobs {
			ids = append(ids, id)
		}
	}
	session := sessions.Default(c)
	session.Set(sessionKeyJobs, strings.Join(ids, ","))
	return session.Save()
}

// StatusReader はジョブの記録を読み出します。
type StatusReader interface {
	Status(ctx context.Context, id string) (*jobs.Job, error)
}

// ListHandler は GET /jobs のハンドラーです。期限切れなどで消えたジョブは一覧から外します。
func ListHandler(reader StatusReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := IDs(c)
		list := make([]convert.StatusPayload, 0, len(ids))
		for _, id := range ids {
			job, err := reader.Status(c.Request.Context(), id)
			if err != nil {
				if errors.Is(err, convert.ErrJobNotFound) {
					continue
				}
				_ = c.Error(err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    convert.CodeInternal,
					"message": "ジョブ情報の取得に失敗しました。",
				})
				return
			}
			list = append(list, convert.NewStatusPayload(job))
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{"jobs": list})
	}
}
