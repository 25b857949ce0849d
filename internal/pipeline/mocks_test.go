package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/jobstore"
	"github.com/book-expert/lecture-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"
)

var (
	errMockSynthesis = errors.New("mock synthesis error")
	errMockRender    = errors.New("mock render error")
	errMockUpload    = errors.New("mock upload error")
	errMockNotify    = errors.New("mock notify error")
)

// mockSynthesizer is a hand-written core.SpeechSynthesizer.
type mockSynthesizer struct {
	mu             sync.Mutex
	shouldFail     bool
	waitForContext bool
	release        chan struct{}
	started        chan struct{}
	receivedText   string
	receivedVoice  core.VoiceSettings
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string, settings core.VoiceSettings) ([]byte, error) {
	m.mu.Lock()
	m.receivedText = text
	m.receivedVoice = settings
	m.mu.Unlock()

	if m.started != nil {
		close(m.started)
	}

	if m.release != nil {
		<-m.release
	}

	if m.waitForContext {
		<-ctx.Done()

		return nil, &core.SynthesisError{Err: ctx.Err()}
	}

	if m.shouldFail {
		return nil, &core.SynthesisError{Err: errMockSynthesis}
	}

	return []byte("sample audio"), nil
}

func (m *mockSynthesizer) text() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.receivedText
}

// mockRenderer is a hand-written core.VideoRenderer.
type mockRenderer struct {
	mu          sync.Mutex
	shouldFail  bool
	noThumbnail bool
	calls       int
	receivedReq core.RenderRequest
}

func (m *mockRenderer) Render(_ context.Context, req core.RenderRequest) (*core.RenderOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.receivedReq = req

	if m.shouldFail {
		return nil, &core.RenderError{Err: errMockRender}
	}

	output := &core.RenderOutput{Video: []byte("sample video"), Duration: 12.5}
	if !m.noThumbnail {
		output.Thumbnail = []byte("thumb")
	}

	return output, nil
}

func (m *mockRenderer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// mockBlobStore is a hand-written core.BlobStore that fails uploads to chosen folders.
type mockBlobStore struct {
	mu          sync.Mutex
	failFolders map[string]bool
	deleteFails bool
	uploads     []core.UploadRequest
	deleted     []string
}

func (m *mockBlobStore) Upload(_ context.Context, req core.UploadRequest) (*core.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failFolders[req.Folder] {
		return nil, &core.UploadError{Filename: req.Filename, Err: errMockUpload}
	}

	m.uploads = append(m.uploads, req)
	publicID := req.Folder + "/" + req.Filename

	return &core.UploadResult{
		URL:      "https://blobs.test/" + publicID,
		PublicID: publicID,
		Size:     int64(len(req.Data)),
		Duration: req.Duration,
	}, nil
}

func (m *mockBlobStore) Delete(_ context.Context, publicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteFails {
		return errMockUpload
	}

	m.deleted = append(m.deleted, publicID)

	return nil
}

func (m *mockBlobStore) ListOlderThan(_ context.Context, _ string, _ time.Duration) ([]string, error) {
	return nil, nil
}

func (m *mockBlobStore) snapshot() ([]core.UploadRequest, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]core.UploadRequest(nil), m.uploads...), append([]string(nil), m.deleted...)
}

// mockNotifier records every status update it is told about.
type mockNotifier struct {
	mu         sync.Mutex
	shouldFail bool
	updates    []core.StatusUpdate
}

func (m *mockNotifier) NotifyStatus(_ context.Context, update core.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates = append(m.updates, update)

	if m.shouldFail {
		return errMockNotify
	}

	return nil
}

func (m *mockNotifier) received() []core.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]core.StatusUpdate(nil), m.updates...)
}

// recordingStore wraps a MemoryStore and keeps a snapshot after every applied update.
type recordingStore struct {
	*jobstore.MemoryStore

	mu        sync.Mutex
	snapshots []*core.Job
}

func (r *recordingStore) Update(ctx context.Context, id string, patch core.Patch) (*core.Job, error) {
	job, err := r.MemoryStore.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.snapshots = append(r.snapshots, job.Clone())
	r.mu.Unlock()

	return job, nil
}

func (r *recordingStore) history() []*core.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*core.Job(nil), r.snapshots...)
}

type fixture struct {
	store       *recordingStore
	synthesizer *mockSynthesizer
	renderer    *mockRenderer
	blobs       *mockBlobStore
	notifier    *mockNotifier
	executor    *pipeline.Executor
	log         *logger.Logger
}

func newFixture(t *testing.T, cfg pipeline.Config) *fixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	f := &fixture{
		store:       &recordingStore{MemoryStore: jobstore.NewMemoryStore()},
		synthesizer: &mockSynthesizer{},
		renderer:    &mockRenderer{},
		blobs:       &mockBlobStore{failFolders: map[string]bool{}},
		notifier:    &mockNotifier{},
		log:         testLogger,
	}

	f.executor, err = pipeline.NewExecutor(pipeline.Dependencies{
		Store:       f.store,
		Synthesizer: f.synthesizer,
		Renderer:    f.renderer,
		Blobs:       f.blobs,
		Notifier:    f.notifier,
	}, cfg, testLogger)
	require.NoError(t, err)

	return f
}

func (f *fixture) createJob(t *testing.T, sourceText string, settings core.Settings) *core.Job {
	t.Helper()

	job := core.NewJob("job-1", "lecture-42", core.Inputs{SourceText: sourceText, Settings: settings}, time.Now().UTC())
	require.NoError(t, f.store.Create(context.Background(), job))

	return job
}
