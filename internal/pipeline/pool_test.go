package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockRun = errors.New("mock run error")

// mockRunner records the jobs it ran and can block until released.
type mockRunner struct {
	mu          sync.Mutex
	ran         []string
	abandoned   []string
	reasons     []error
	shouldFail  bool
	shouldPanic bool
	block       chan struct{}
	started     chan string
}

func (m *mockRunner) Run(ctx context.Context, jobID string) error {
	if m.started != nil {
		m.started <- jobID
	}

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.ran = append(m.ran, jobID)
	m.mu.Unlock()

	if m.shouldPanic {
		panic("mock runner panic")
	}

	if m.shouldFail {
		return errMockRun
	}

	return nil
}

func (m *mockRunner) Abandon(_ context.Context, jobID string, reason error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.abandoned = append(m.abandoned, jobID)
	m.reasons = append(m.reasons, reason)

	return nil
}

func (m *mockRunner) abandonedJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.abandoned...)
}

func (m *mockRunner) jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.ran...)
}

func newPoolLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "pool-test.log")
	require.NoError(t, err)

	return testLogger
}

func TestPool_RunsSubmittedJobs(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{}
	pool := pipeline.NewPool(runner, 2, 10, newPoolLogger(t), metrics.New())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Submit(id))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, runner.jobs())
	assert.Equal(t, 2, pool.Workers())
}

func TestPool_QueueFull(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{block: make(chan struct{}), started: make(chan string, 1)}
	pool := pipeline.NewPool(runner, 1, 1, newPoolLogger(t), nil)

	require.NoError(t, pool.Submit("running"))
	assert.Equal(t, "running", <-runner.started)

	require.NoError(t, pool.Submit("queued"))
	assert.Equal(t, 1, pool.QueueLength())
	require.ErrorIs(t, pool.Submit("rejected"), pipeline.ErrQueueFull)

	close(runner.block)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"running", "queued"}, runner.jobs())
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	pool := pipeline.NewPool(&mockRunner{}, 1, 1, newPoolLogger(t), nil)

	require.NoError(t, pool.Shutdown(context.Background()))
	require.ErrorIs(t, pool.Submit("late"), pipeline.ErrPoolClosed)

	// A second shutdown is harmless.
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_ShutdownDeadlineCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{block: make(chan struct{}), started: make(chan string, 1)}
	pool := pipeline.NewPool(runner, 1, 1, newPoolLogger(t), nil)

	require.NoError(t, pool.Submit("slow"))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, runner.jobs())
}

func TestPool_ShutdownDeadlineAbandonsQueuedJobs(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{block: make(chan struct{}), started: make(chan string, 1)}
	pool := pipeline.NewPool(runner, 1, 2, newPoolLogger(t), nil)

	require.NoError(t, pool.Submit("slow"))
	<-runner.started

	require.NoError(t, pool.Submit("queued-1"))
	require.NoError(t, pool.Submit("queued-2"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, runner.jobs())
	assert.Equal(t, []string{"queued-1", "queued-2"}, runner.abandonedJobs())

	runner.mu.Lock()
	defer runner.mu.Unlock()

	for _, reason := range runner.reasons {
		require.ErrorIs(t, reason, pipeline.ErrPoolClosed)
	}
}

func TestPool_SurvivesFailingAndPanickingJobs(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{shouldFail: true}
	pool := pipeline.NewPool(runner, 1, 4, newPoolLogger(t), nil)

	require.NoError(t, pool.Submit("fails"))

	panicking := &mockRunner{shouldPanic: true}
	panicPool := pipeline.NewPool(panicking, 1, 4, newPoolLogger(t), nil)

	require.NoError(t, panicPool.Submit("first"))
	require.NoError(t, panicPool.Submit("second"))

	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, panicPool.Shutdown(context.Background()))

	assert.Equal(t, []string{"fails"}, runner.jobs())
	assert.Equal(t, []string{"first", "second"}, panicking.jobs())
}
