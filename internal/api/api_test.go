package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/api"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/estimate"
	"github.com/book-expert/lecture-service/internal/lecture"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/objectstore"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var errMockStore = errors.New("mock store error")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// mockService is a hand-written api.LectureService.
type mockService struct {
	mu          sync.Mutex
	submitErr   error
	statusErr   error
	cancelErr   error
	speechErr   error
	listFails   bool
	clientKeys  []string
	cleanupAges []time.Duration
	views       map[string]*lecture.StatusView
}

func newMockService() *mockService {
	return &mockService{views: make(map[string]*lecture.StatusView)}
}

func (m *mockService) Submit(_ context.Context, clientKey string, req lecture.GenerateRequest) (*lecture.Submission, error) {
	m.mu.Lock()
	m.clientKeys = append(m.clientKeys, clientKey)
	m.mu.Unlock()

	if m.submitErr != nil {
		return nil, m.submitErr
	}

	err := lecture.Validate(req)
	if err != nil {
		return nil, err
	}

	job := core.NewJob("job-1", req.LectureID, core.Inputs{SourceText: req.SourceText}, time.Now())

	return &lecture.Submission{Job: job, Estimate: estimate.Estimate{Seconds: 210, Minutes: 3}}, nil
}

func (m *mockService) Status(_ context.Context, id string) (*lecture.StatusView, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}

	view, ok := m.views[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}

	return view, nil
}

func (m *mockService) Cancel(_ context.Context, id string) (*core.Job, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}

	if _, ok := m.views[id]; !ok {
		return nil, core.ErrJobNotFound
	}

	job := core.NewJob(id, "lecture-42", core.Inputs{}, time.Now())
	job.Status = core.JobStatusCancelled

	return job, nil
}

func (m *mockService) List(_ context.Context) ([]*lecture.StatusView, error) {
	if m.listFails {
		return nil, errMockStore
	}

	views := make([]*lecture.StatusView, 0, len(m.views))
	for _, view := range m.views {
		views = append(views, view)
	}

	return views, nil
}

func (m *mockService) Stats(_ context.Context) (*lecture.Stats, error) {
	return &lecture.Stats{Workers: 3, QueueLength: 1, Jobs: map[core.JobStatus]int{core.JobStatusPending: 1}}, nil
}

func (m *mockService) TextToSpeech(_ context.Context, req lecture.SpeechRequest) (*core.UploadResult, error) {
	if m.speechErr != nil {
		return nil, m.speechErr
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, core.NewValidationError("text", "is required")
	}

	return &core.UploadResult{URL: "https://blobs.test/temp/tts-1.mp3", PublicID: "temp/tts-1.mp3", Size: 42}, nil
}

func (m *mockService) Cleanup(_ context.Context, age time.Duration) lecture.CleanupReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupAges = append(m.cleanupAges, age)

	return lecture.CleanupReport{DeletedFiles: 2, RemovedJobs: 1}
}

type mockFiles struct{}

func (mockFiles) Download(_ context.Context, publicID string) (*objectstore.Object, error) {
	if publicID == "lectures/video.mp4" {
		return &objectstore.Object{Data: []byte("video bytes"), ContentType: "video/mp4"}, nil
	}

	return nil, fmt.Errorf("%w: %s", objectstore.ErrObjectNotFound, publicID)
}

func newRouter(t *testing.T, service *mockService, secret string) *gin.Engine {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "api-test.log")
	require.NoError(t, err)

	return api.NewRouter(api.Options{
		Service:   service,
		Files:     mockFiles{},
		Metrics:   metrics.New(),
		JWTSecret: secret,
		Version:   "test",
	}, testLogger)
}

func doRequest(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var payload map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))

	return payload
}

func TestGenerateLecture(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
	}{
		{
			name:       "accepted",
			body:       `{"lectureId":"lecture-42","sourceText":"A lecture about three ideas."}`,
			wantStatus: http.StatusAccepted,
		},
		{name: "malformed json", body: `{"lectureId":`, wantStatus: http.StatusBadRequest},
		{name: "missing text", body: `{"lectureId":"lecture-42"}`, wantStatus: http.StatusBadRequest},
		{name: "short text", body: `{"lectureId":"lecture-42","sourceText":"  hi  "}`, wantStatus: http.StatusBadRequest},
		{
			name:       "unknown voice",
			body:       `{"lectureId":"lecture-42","sourceText":"A lecture about three ideas.","settings":{"voice":"nobody"}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rate limited",
			body:       `{"lectureId":"lecture-42","sourceText":"A lecture about three ideas."}`,
			submitErr:  lecture.ErrRateLimitExceeded,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "queue full",
			body:       `{"lectureId":"lecture-42","sourceText":"A lecture about three ideas."}`,
			submitErr:  fmt.Errorf("%w: queue is full", lecture.ErrUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "store failure",
			body:       `{"lectureId":"lecture-42","sourceText":"A lecture about three ideas."}`,
			submitErr:  errMockStore,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			service := newMockService()
			service.submitErr = tc.submitErr
			router := newRouter(t, service, "")

			recorder := doRequest(router, http.MethodPost, "/api/generate-lecture", tc.body)
			require.Equal(t, tc.wantStatus, recorder.Code, recorder.Body.String())

			payload := decode(t, recorder)
			if tc.wantStatus != http.StatusAccepted {
				assert.Equal(t, false, payload["success"])
				assert.NotEmpty(t, payload["message"])

				return
			}

			assert.Equal(t, true, payload["success"])
			assert.Equal(t, "job-1", payload["jobId"])
			assert.Equal(t, "3 minutes", payload["estimatedTime"])
			assert.InDelta(t, 210, payload["estimatedTimeSeconds"], 0.001)
		})
	}
}

func TestGenerateLecture_ClientKeyFromClientIP(t *testing.T) {
	t.Parallel()

	service := newMockService()
	router := newRouter(t, service, "")

	doRequest(router, http.MethodPost, "/api/generate-lecture",
		`{"lectureId":"lecture-42","sourceText":"A lecture about three ideas."}`)

	require.Len(t, service.clientKeys, 1)
	assert.True(t, strings.HasPrefix(service.clientKeys[0], "ip:"))
}

func TestProcessingStatus(t *testing.T) {
	t.Parallel()

	service := newMockService()
	completedAt := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	service.views["job-1"] = &lecture.StatusView{
		JobID:       "job-1",
		LectureID:   "lecture-42",
		Status:      core.JobStatusCompleted,
		Progress:    100,
		CompletedAt: &completedAt,
		Result:      &core.Result{VideoURL: "https://blobs.test/v.mp4", AudioURL: "https://blobs.test/a.mp3", Duration: 12.5},
	}
	router := newRouter(t, service, "")

	recorder := doRequest(router, http.MethodGet, "/api/processing-status/job-1", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	payload := decode(t, recorder)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "https://blobs.test/v.mp4", payload["videoUrl"])
	assert.Equal(t, "https://blobs.test/a.mp3", payload["audioUrl"])
	assert.InDelta(t, 12.5, payload["duration"], 0.001)

	again := doRequest(router, http.MethodGet, "/api/processing-status/job-1", "")
	assert.JSONEq(t, recorder.Body.String(), again.Body.String())

	missing := doRequest(router, http.MethodGet, "/api/processing-status/unknown", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "Job not found", decode(t, missing)["message"])
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	service := newMockService()
	service.views["job-1"] = &lecture.StatusView{JobID: "job-1", Status: core.JobStatusProcessing}
	router := newRouter(t, service, "")

	recorder := doRequest(router, http.MethodPost, "/api/processing-status/job-1/cancel", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "cancelled", decode(t, recorder)["status"])

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPost, "/api/processing-status/nope/cancel", "").Code)

	conflicted := newMockService()
	conflicted.cancelErr = fmt.Errorf("%w: job job-1 is completed", core.ErrJobTerminal)
	conflictRouter := newRouter(t, conflicted, "")

	assert.Equal(t, http.StatusConflict,
		doRequest(conflictRouter, http.MethodPost, "/api/processing-status/job-1/cancel", "").Code)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	service := newMockService()
	service.views["job-1"] = &lecture.StatusView{JobID: "job-1", Status: core.JobStatusPending}
	router := newRouter(t, service, "")

	recorder := doRequest(router, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.InDelta(t, 1, decode(t, recorder)["count"], 0.001)

	service.listFails = true
	assert.Equal(t, http.StatusInternalServerError, doRequest(router, http.MethodGet, "/api/jobs", "").Code)
}

func TestCleanupTemp(t *testing.T) {
	t.Parallel()

	service := newMockService()
	router := newRouter(t, service, "")

	recorder := doRequest(router, http.MethodPost, "/api/cleanup-temp", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	payload := decode(t, recorder)
	assert.InDelta(t, 2, payload["deletedCount"], 0.001)
	assert.InDelta(t, 1, payload["removedJobs"], 0.001)

	recorder = doRequest(router, http.MethodPost, "/api/cleanup-temp", `{"olderThanHours":2}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(router, http.MethodPost, "/api/cleanup-temp", `{"olderThanHours":-1}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	assert.Equal(t, []time.Duration{24 * time.Hour, 2 * time.Hour}, service.cleanupAges)
}

func TestTextToSpeech(t *testing.T) {
	t.Parallel()

	service := newMockService()
	router := newRouter(t, service, "")

	recorder := doRequest(router, http.MethodPost, "/api/text-to-speech", `{"text":"Hello there."}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	payload := decode(t, recorder)
	assert.Equal(t, "https://blobs.test/temp/tts-1.mp3", payload["audioUrl"])
	assert.Equal(t, "temp/tts-1.mp3", payload["publicId"])

	assert.Equal(t, http.StatusBadRequest,
		doRequest(router, http.MethodPost, "/api/text-to-speech", `{"text":" "}`).Code)

	failing := newMockService()
	failing.speechErr = &core.SynthesisError{Err: errMockStore}

	assert.Equal(t, http.StatusBadGateway,
		doRequest(newRouter(t, failing, ""), http.MethodPost, "/api/text-to-speech", `{"text":"Hello"}`).Code)
}

func TestCatalogues(t *testing.T) {
	t.Parallel()

	router := newRouter(t, newMockService(), "")

	voices := doRequest(router, http.MethodGet, "/api/available-voices", "")
	require.Equal(t, http.StatusOK, voices.Code)
	assert.Contains(t, voices.Body.String(), `"rachel"`)

	styles := doRequest(router, http.MethodGet, "/api/available-video-styles", "")
	require.Equal(t, http.StatusOK, styles.Code)

	for _, name := range []string{"presentation", "modern", "classic", "minimal"} {
		assert.Contains(t, styles.Body.String(), `"`+name+`"`)
	}
}

func TestDownloadFile(t *testing.T) {
	t.Parallel()

	router := newRouter(t, newMockService(), "")

	recorder := doRequest(router, http.MethodGet, "/api/files/lectures/video.mp4", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "video/mp4", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "video bytes", recorder.Body.String())

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/files/lectures/missing.mp4", "").Code)
}

func TestHealthStatusAndMetrics(t *testing.T) {
	t.Parallel()

	router := newRouter(t, newMockService(), "")

	health := doRequest(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "healthy", decode(t, health)["status"])

	status := doRequest(router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, status.Code)

	payload := decode(t, status)
	assert.InDelta(t, 3, payload["workers"], 0.001)
	assert.InDelta(t, 1, payload["queueLength"], 0.001)

	exposition := doRequest(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, exposition.Code)
	assert.Contains(t, exposition.Body.String(), "lecture_service_http_requests_total")
}

type mockSpeechHealth struct {
	err error
}

func (m mockSpeechHealth) HealthCheck(_ context.Context) error {
	return m.err
}

func TestServiceStatus_SpeechHealth(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		speech    api.HealthChecker
		available bool
	}{
		{name: "not configured", available: true},
		{name: "healthy", speech: mockSpeechHealth{}, available: true},
		{name: "unreachable", speech: mockSpeechHealth{err: errMockStore}, available: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			testLogger, err := logger.New(t.TempDir(), "api-test.log")
			require.NoError(t, err)

			router := api.NewRouter(api.Options{
				Service: newMockService(),
				Speech:  tc.speech,
				Metrics: metrics.New(),
				Version: "test",
			}, testLogger)

			recorder := doRequest(router, http.MethodGet, "/api/status", "")
			require.Equal(t, http.StatusOK, recorder.Code)

			features, ok := decode(t, recorder)["features"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tc.available, features["textToSpeech"])
			assert.Equal(t, false, features["fileStorage"])
		})
	}
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()

	token := jwt.NewWithClaims(method, api.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	return signed
}

func TestAuth(t *testing.T) {
	t.Parallel()

	service := newMockService()
	router := newRouter(t, service, testSecret)

	testCases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", jwt.SigningMethodHS256), wantStatus: http.StatusUnauthorized},
		{name: "wrong algorithm", header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS512), wantStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256), wantStatus: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			recorder := doRequest(router, http.MethodGet, "/api/available-voices", "", "Authorization", tc.header)
			assert.Equal(t, tc.wantStatus, recorder.Code)
		})
	}

	// Health stays public.
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/health", "").Code)
}

func TestAuth_ClientKeyFromSubject(t *testing.T) {
	t.Parallel()

	service := newMockService()
	router := newRouter(t, service, testSecret)

	recorder := doRequest(router, http.MethodPost, "/api/generate-lecture",
		`{"lectureId":"lecture-42","sourceText":"A lecture about three ideas."}`,
		"Authorization", "Bearer "+signToken(t, testSecret, jwt.SigningMethodHS256))
	require.Equal(t, http.StatusAccepted, recorder.Code)

	assert.Equal(t, []string{"sub:user-1"}, service.clientKeys)
}
