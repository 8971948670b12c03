package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/shapefile"
)

const (
	kmlContentType = "application/vnd.google-earth.kml+xml"
	zipContentType = "application/zip"

	// multipart の境界やヘッダの分だけ本体の上限に余裕を持たせる
	multipartOverhead = 1 << 20
)

// HandlerOptions はハンドラーの設定です。
type HandlerOptions struct {
	Scheduler      jobs.Scheduler
	MaxUploadBytes int64
	// AfterSubmit はジョブ受付後、202 応答の前に呼ばれます。
	AfterSubmit func(c *gin.Context, jobID string)
}

// UploadHandler は POST /upload のハンドラーを返します。
func UploadHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxUploadBytes+multipartOverhead)
		}
		form, err := c.MultipartForm()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondWithError(c, errUploadTooLarge(opts.MaxUploadBytes))
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeUploadRejected,
				"message": "multipart/form-data で ZIP ファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file := uploadedFile(form)
		if file == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeUploadRejected,
				"message": "アップロードされた ZIP ファイルが見つかりません。",
			})
			return
		}

		job, err := svc.Submit(c.Request.Context(), file, opts.Scheduler)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if opts.AfterSubmit != nil {
			opts.AfterSubmit(c, job.ID)
		}
		c.JSON(http.StatusAccepted, gin.H{"id": job.ID})
	}
}

// StatusHandler は GET /status/:id のハンドラーを返します。
func StatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, NewStatusPayload(job))
	}
}

// DownloadHandler は GET /download/:id のハンドラーを返します。
func DownloadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		d, err := svc.Combined(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		sendFile(c, id, d.Name, kmlContentType, []byte(d.Content))
	}
}

// SourceDownloadHandler は GET /download/:id/:name のハンドラーを返します。
func SourceDownloadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		d, err := svc.SourceOutput(c.Request.Context(), id, c.Param("name"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		sendFile(c, id, d.Name, kmlContentType, []byte(d.Content))
	}
}

// BundleHandler は GET /download-all/:id のハンドラーを返します。
func BundleHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var buf bytes.Buffer
		b, err := svc.WriteBundle(c.Request.Context(), id, &buf)
		if err != nil {
			respondWithError(c, err)
			return
		}
		sendFile(c, id, b.Name, zipContentType, buf.Bytes())
	}
}

// StatusPayload は GET /status/:id の応答です。
type StatusPayload struct {
	ID                string      `json:"id"`
	Status            jobs.Status `json:"status"`
	OriginalName      string      `json:"originalName"`
	OutputName        string      `json:"outputName,omitempty"`
	SourceOutputNames []string    `json:"sourceOutputNames"`
	Error             string      `json:"error,omitempty"`
	ErrorCode         string      `json:"errorCode,omitempty"`
	ErrorDetails      []string    `json:"errorDetails,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// NewStatusPayload はジョブ記録から応答を作ります。成果物の本文は含めません。
func NewStatusPayload(job *jobs.Job) StatusPayload {
	p := StatusPayload{
		ID:                job.ID,
		Status:            job.Status,
		OriginalName:      job.OriginalName,
		OutputName:        job.OutputName,
		SourceOutputNames: job.SourceOutputNames(),
		CreatedAt:         job.CreatedAt,
		CompletedAt:       job.CompletedAt,
	}
	if job.Error != nil {
		p.Error = job.Error.Message
		p.ErrorCode = job.Error.Code
		p.ErrorDetails = job.Error.Details
	}
	return p
}

func uploadedFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, field := range []string{"file", "archive", "shapefile"} {
		if files := form.File[field]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		body := gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}
		if len(apiErr.Details) > 0 {
			body["details"] = apiErr.Details
		}
		var incomplete *shapefile.IncompleteError
		if errors.As(apiErr.Err, &incomplete) {
			body["sets"] = incomplete.Sets
		}
		c.JSON(apiErr.HTTPStatus(), body)
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func sendFile(c *gin.Context, jobID, filename, contentType string, data []byte) {
	encodedName := url.PathEscape(filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", asciiFilename(filename), encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", jobID)
	c.Data(http.StatusOK, contentType, data)
}

// filename= には ASCII しか書けないので、それ以外と引用符は置き換える
func asciiFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}
