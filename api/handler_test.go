package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lconvert/config"
	"lconvert/job"
	"lconvert/progress"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func setupTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *progress.Tracker, []*job.Job) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	out := filepath.Join(t.TempDir(), "a.mp3")
	require.NoError(t, os.WriteFile(out, []byte("converted"), 0o644))

	d := 10.0
	jobs := []*job.Job{
		job.New("/in/a.flac", out, false, nil),
		job.New("/in/b.flac", "/out/b.mp3", false, nil),
		job.New("/in/c.flac", "/out/c.mp3", false, nil),
	}
	jobs[0].Duration = &d

	tracker := progress.NewTracker(jobs, nil)
	tracker.Started(jobs[0])
	tracker.Started(jobs[1])
	tracker.Progress(jobs[0], "out_time_ms=4000000")
	tracker.Finished(jobs[0], job.Outcome{})
	tracker.Finished(jobs[1], job.Outcome{Stderr: "Invalid argument"})

	return SetupRouter(tracker, cfg), tracker, jobs
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _, _ := setupTestRouter(t, &config.Config{StatusKey: "secret"})
	w := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleGetProgress(t *testing.T) {
	router, _, _ := setupTestRouter(t, &config.Config{})

	w := get(t, router, "/api/v1/progress")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(12), resp["totalBound"])
	assert.Equal(t, float64(11), resp["position"])
	assert.Equal(t, float64(1), resp["succeeded"])
	assert.Equal(t, float64(1), resp["errored"])
	assert.Equal(t, float64(3), resp["totalJobs"])
	assert.Equal(t, false, resp["done"])
}

func TestHandleListJobs(t *testing.T) {
	router, _, jobs := setupTestRouter(t, &config.Config{})

	w := get(t, router, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	var all []progress.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 3)
	assert.Equal(t, jobs[0].ID, all[0].ID)
	assert.Equal(t, job.StatusQueued, all[2].Status)

	w = get(t, router, "/api/v1/jobs?status=failed")
	var failed []progress.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, "/in/b.flac", failed[0].Input)
	assert.Contains(t, failed[0].Error, "ffmpeg reported errors")
}

func TestHandleGetJob(t *testing.T) {
	router, _, jobs := setupTestRouter(t, &config.Config{})

	w := get(t, router, "/api/v1/jobs/"+jobs[0].ID)
	require.Equal(t, http.StatusOK, w.Code)
	var st progress.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, job.StatusSucceeded, st.Status)
	assert.Equal(t, int64(10), st.Position)
	assert.True(t, st.KnownLength)

	w = get(t, router, "/api/v1/jobs/nonexistent")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetOutput(t *testing.T) {
	router, _, jobs := setupTestRouter(t, &config.Config{})

	w := get(t, router, "/api/v1/jobs/"+jobs[0].ID+"/output")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "converted", w.Body.String())

	w = get(t, router, "/api/v1/jobs/"+jobs[1].ID+"/output")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = get(t, router, "/api/v1/jobs/nonexistent/output")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router, _, _ := setupTestRouter(t, &config.Config{StatusKey: "secret"})

	cases := map[string][]string{
		"missing header": nil,
		"bad format":     {"Authorization", "secret"},
		"wrong scheme":   {"Authorization", "Basic secret"},
		"wrong token":    {"Authorization", "Bearer nope"},
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := get(t, router, "/api/v1/progress", header...)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	w := get(t, router, "/api/v1/progress", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
	w = get(t, router, "/api/v1/progress", "Authorization", "bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	router, _, _ := setupTestRouter(t, &config.Config{})
	h := newCORSHandler(router)

	w := get(t, h, "/api/v1/progress", "Origin", "http://dashboard.local")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer(t *testing.T) {
	_, tracker, _ := setupTestRouter(t, &config.Config{})
	srv := NewServer(&config.Config{StatusAddr: "127.0.0.1:0"}, tracker, nopLogger{})
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	taken := NewServer(&config.Config{StatusAddr: srv.Addr()}, tracker, nopLogger{})
	assert.Error(t, taken.Start(), "address already in use")
}
