package convert

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/shapefile"
)

// エラーコードです。ジョブの失敗理由と API のエラー応答の両方で使います。
const (
	CodeUploadRejected    = "UPLOAD_REJECTED"
	CodeNoSourceFiles     = "NO_SOURCE_FILES"
	CodeIncompleteSource  = "INCOMPLETE_SOURCE"
	CodeSourceNotFound    = "SOURCE_NOT_FOUND"
	CodeConversionError   = "CONVERSION_ERROR"
	CodeConversionTimeout = "CONVERSION_TIMEOUT"
	CodeNoOutput          = "NO_OUTPUT"
	CodeNotReady          = "NOT_READY"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeScheduleFailed    = "SCHEDULE_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error は利用者に提示できる変換エラーです。
type Error struct {
	Code    string
	Message string
	Details []string
	Err     error

	status int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードが一致する *Error を同じエラーとみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus は API 応答に使うステータスコードを返します。
func (e *Error) HTTPStatus() int {
	if e.status != 0 {
		return e.status
	}
	switch e.Code {
	case CodeNotReady:
		return http.StatusConflict
	case CodeFileNotFound, CodeJobNotFound:
		return http.StatusNotFound
	case CodeNoSourceFiles, CodeIncompleteSource:
		return http.StatusUnprocessableEntity
	case CodeUploadRejected:
		return http.StatusUnsupportedMediaType
	case CodeInternal, CodeScheduleFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	// ErrNotReady はジョブが完了していないためダウンロードできないことを表します。
	ErrNotReady = &Error{Code: CodeNotReady, Message: "ジョブはまだ完了していません。"}
	// ErrFileNotFound は指定された名前のソース別出力が存在しないことを表します。
	ErrFileNotFound = &Error{Code: CodeFileNotFound, Message: "指定されたファイルは存在しません。"}
	// ErrJobNotFound は指定されたジョブが存在しないことを表します。
	ErrJobNotFound = &Error{Code: CodeJobNotFound, Message: "指定されたジョブは存在しません。"}
)

func errUploadTooLarge(limit int64) *Error {
	return &Error{
		Code:    CodeUploadRejected,
		Message: "アップロードサイズが上限を超えています。",
		Details: []string{"limitBytes=" + strconv.FormatInt(limit, 10)},
		status:  http.StatusRequestEntityTooLarge,
	}
}

// fromValidation は事前検査のエラーを API エラーに変換します。
func fromValidation(err error) *Error {
	if errors.Is(err, shapefile.ErrNoSourceFiles) {
		return &Error{
			Code:    CodeNoSourceFiles,
			Message: "ZIP に .shp ファイルが含まれていません。",
			Err:     err,
		}
	}
	var incomplete *shapefile.IncompleteError
	if errors.As(err, &incomplete) {
		details := make([]string, len(incomplete.Sets))
		for i, set := range incomplete.Sets {
			details[i] = set.String()
		}
		return &Error{
			Code:    CodeIncompleteSource,
			Message: "シェープファイルの構成ファイル（.shp / .shx / .dbf）が不足しています。",
			Details: details,
			Err:     err,
		}
	}
	return &Error{
		Code:    CodeUploadRejected,
		Message: "ZIP ファイルとして読み込めませんでした。",
		Err:     err,
	}
}

// errorInfo はジョブ記録に保存するエラー情報を作ります。
func errorInfo(err error) jobs.ErrorInfo {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return jobs.ErrorInfo{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}
	}
	return jobs.ErrorInfo{
		Code:    CodeInternal,
		Message: err.Error(),
	}
}
