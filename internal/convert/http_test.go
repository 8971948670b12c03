package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/shape-forge/internal/jobs"
)

type failingScheduler struct{}

func (failingScheduler) Schedule(ctx context.Context, payload jobs.TaskPayload) error {
	return io.ErrClosedPipe
}

func (failingScheduler) Shutdown(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, env *testEnv, scheduler jobs.Scheduler, submitted *[]string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/upload", UploadHandler(env.svc, HandlerOptions{
		Scheduler:      scheduler,
		MaxUploadBytes: env.svc.opts.MaxUploadBytes,
		AfterSubmit: func(c *gin.Context, jobID string) {
			if submitted != nil {
				*submitted = append(*submitted, jobID)
			}
		},
	}))
	router.GET("/status/:id", StatusHandler(env.svc))
	router.GET("/download/:id", DownloadHandler(env.svc))
	router.GET("/download/:id/:name", SourceDownloadHandler(env.svc))
	router.GET("/download-all/:id", BundleHandler(env.svc))
	return router
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fw, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestUploadThroughDownload(t *testing.T) {
	env := newTestEnv(t, kmlPerSource())
	scheduler := jobs.NewInlineScheduler(env.svc, zaptest.NewLogger(t))
	var submitted []string
	router := newTestRouter(t, env, scheduler, &submitted)

	archive := buildZip(t, append(shapefileSet("", "roads"), shapefileSet("", "parcels")...)...)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "city.zip", archive))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("response should carry the job id")
	}
	if len(submitted) != 1 || submitted[0] != id {
		t.Fatalf("AfterSubmit should receive the job id: %v", submitted)
	}

	scheduler.Wait()

	rec = get(router, "/status/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	status := decodeBody(t, rec)
	if status["status"] != string(jobs.StatusCompleted) || status["outputName"] != "city_combined.kml" {
		t.Fatalf("unexpected status payload: %v", status)
	}
	if _, ok := status["combinedContent"]; ok {
		t.Fatal("status must not include the output content")
	}
	sources, _ := status["sourceOutputNames"].([]any)
	if len(sources) != 2 || sources[0] != "parcels.kml" {
		t.Fatalf("unexpected source output names: %v", status["sourceOutputNames"])
	}

	rec = get(router, "/download/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="city_combined.kml"`) {
		t.Fatalf("unexpected Content-Disposition: %s", cd)
	}
	if !strings.Contains(rec.Body.String(), "roads-1") || !strings.Contains(rec.Body.String(), "parcels-1") {
		t.Fatalf("combined download should contain both sources: %s", rec.Body.String())
	}

	rec = get(router, "/download/"+id+"/roads.kml")
	if rec.Code != http.StatusOK || rec.Body.String() != placemarkKML("roads-1") {
		t.Fatalf("unexpected source download: %d %s", rec.Code, rec.Body.String())
	}

	rec = get(router, "/download/"+id+"/missing.kml")
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["code"] != CodeFileNotFound {
		t.Fatalf("expected 404 FILE_NOT_FOUND, got %d %s", rec.Code, rec.Body.String())
	}

	rec = get(router, "/download-all/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "city_kml.zip") {
		t.Fatalf("unexpected bundle name: %s", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("bundle is not a zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "city_combined.kml,parcels.kml,roads.kml" {
		t.Fatalf("unexpected bundle entries: %v", names)
	}
}

func TestBundleWithSingleSourceHasOneEntry(t *testing.T) {
	env := newTestEnv(t, kmlPerSource())
	env.runArchive(t, "job-one", "parcels.zip", buildZip(t, shapefileSet("", "parcels")...))

	var buf bytes.Buffer
	b, err := env.svc.WriteBundle(context.Background(), "job-one", &buf)
	if err != nil {
		t.Fatalf("WriteBundle returned error: %v", err)
	}
	if b.Name != "parcels_kml.zip" || len(b.Entries) != 1 || b.Entries[0].Name != "parcels.kml" {
		t.Fatalf("unexpected bundle: %+v", b)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil || len(zr.File) != 1 {
		t.Fatalf("expected a one-entry zip, err=%v", err)
	}
}

func TestDownloadsBeforeCompletion(t *testing.T) {
	env := newTestEnv(t, kmlPerSource())
	router := newTestRouter(t, env, nil, nil)
	ctx := context.Background()
	if err := env.store.Create(ctx, jobs.NewJob("job-pending", "city.zip", env.svc.now())); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	for _, path := range []string{"/download/job-pending", "/download/job-pending/a.kml", "/download-all/job-pending"} {
		rec := get(router, path)
		if rec.Code != http.StatusConflict || decodeBody(t, rec)["code"] != CodeNotReady {
			t.Fatalf("%s: expected 409 NOT_READY, got %d %s", path, rec.Code, rec.Body.String())
		}
	}

	if err := env.store.Fail(ctx, "job-pending", jobs.ErrorInfo{Code: CodeNoOutput, Message: "none"}, env.svc.now()); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	rec := get(router, "/download/job-pending")
	if rec.Code != http.StatusConflict {
		t.Fatalf("failed jobs have nothing to download, got %d", rec.Code)
	}
	status := decodeBody(t, get(router, "/status/job-pending"))
	if status["status"] != string(jobs.StatusFailed) || status["error"] != "none" || status["errorCode"] != CodeNoOutput {
		t.Fatalf("unexpected status payload: %v", status)
	}

	for _, path := range []string{"/status/unknown", "/download/unknown", "/download-all/unknown"} {
		rec := get(router, path)
		if rec.Code != http.StatusNotFound || decodeBody(t, rec)["code"] != CodeJobNotFound {
			t.Fatalf("%s: expected 404 JOB_NOT_FOUND, got %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestUploadRejections(t *testing.T) {
	incomplete := buildZip(t,
		zipEntry{name: "parcels.shp", content: "shp"},
		zipEntry{name: "parcels.shx", content: "shx"},
	)
	cases := []struct {
		name     string
		field    string
		filename string
		data     []byte
		status   int
		code     string
	}{
		{"wrong extension", "file", "parcels.txt", buildZip(t, shapefileSet("", "parcels")...), http.StatusUnsupportedMediaType, CodeUploadRejected},
		{"not zip content", "file", "parcels.zip", []byte("just some text, not an archive"), http.StatusUnsupportedMediaType, CodeUploadRejected},
		{"too large", "file", "big.zip", bytes.Repeat([]byte("x"), 3<<19), http.StatusRequestEntityTooLarge, CodeUploadRejected},
		{"no shapefile", "archive", "docs.zip", buildZip(t, zipEntry{name: "readme.txt", content: "x"}), http.StatusUnprocessableEntity, CodeNoSourceFiles},
		{"incomplete set", "shapefile", "parcels.zip", incomplete, http.StatusUnprocessableEntity, CodeIncompleteSource},
		{"missing field", "other", "parcels.zip", incomplete, http.StatusBadRequest, CodeUploadRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, kmlPerSource())
			scheduler := jobs.NewInlineScheduler(env.svc, zaptest.NewLogger(t))
			router := newTestRouter(t, env, scheduler, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(t, tc.field, tc.filename, tc.data))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["code"])
			}
			if tc.code == CodeIncompleteSource {
				details, _ := body["details"].([]any)
				if len(details) != 1 || !strings.Contains(details[0].(string), "parcels.dbf") {
					t.Fatalf("details should name the missing companion: %v", body["details"])
				}
				sets, _ := body["sets"].([]any)
				if len(sets) != 1 {
					t.Fatalf("expected structured sets, got %v", body["sets"])
				}
			}
		})
	}
}

func TestUploadScheduleFailureFailsJob(t *testing.T) {
	env := newTestEnv(t, kmlPerSource())
	var submitted []string
	router := newTestRouter(t, env, failingScheduler{}, &submitted)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "parcels.zip", buildZip(t, shapefileSet("", "parcels")...)))
	if rec.Code != http.StatusInternalServerError || decodeBody(t, rec)["code"] != CodeScheduleFailed {
		t.Fatalf("expected 500 SCHEDULE_FAILED, got %d %s", rec.Code, rec.Body.String())
	}
	if len(submitted) != 0 {
		t.Fatal("AfterSubmit must not run when scheduling fails")
	}
}
