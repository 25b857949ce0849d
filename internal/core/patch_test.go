package core_test

import (
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *core.Job {
	return core.NewJob("job-1", "lecture-1", core.Inputs{SourceText: "some lecture text"}, time.Unix(1000, 0))
}

func TestNewJob_StepsPendingInOrder(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	require.Len(t, job.Steps, len(core.StepOrder))

	for i, step := range job.Steps {
		assert.Equal(t, core.StepOrder[i], step.Name)
		assert.Equal(t, core.StepStatusPending, step.Status)
		assert.Zero(t, step.Progress)
	}

	assert.Equal(t, core.JobStatusPending, job.Status)
}

func TestPatch_ProgressNeverDecreases(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	next, err := core.Patch{Status: core.StatusPtr(core.JobStatusProcessing), Progress: core.IntPtr(40)}.Apply(job, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 40, next.Progress)

	next, err = core.Patch{Progress: core.IntPtr(20)}.Apply(next, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 40, next.Progress)
}

func TestPatch_DoesNotModifyOriginal(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	_, err := core.Patch{
		Status: core.StatusPtr(core.JobStatusProcessing),
		Step:   &core.StepPatch{Name: core.StepTextAnalysis, Status: core.StepStatusProcessing},
	}.Apply(job, time.Now())
	require.NoError(t, err)

	assert.Equal(t, core.JobStatusPending, job.Status)
	assert.Equal(t, core.StepStatusPending, job.Steps[0].Status)
}

func TestPatch_TerminalJobRejectsUpdates(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	cancelled, err := core.Patch{Status: core.StatusPtr(core.JobStatusCancelled)}.Apply(job, time.Now())
	require.NoError(t, err)

	_, err = core.Patch{Progress: core.IntPtr(50)}.Apply(cancelled, time.Now())
	require.ErrorIs(t, err, core.ErrJobTerminal)
}

func TestPatch_StepCannotCompleteBeforeEarlierSteps(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	_, err := core.Patch{
		Step: &core.StepPatch{Name: core.StepVideoGeneration, Status: core.StepStatusCompleted, Progress: 100},
	}.Apply(job, time.Now())
	require.ErrorIs(t, err, core.ErrInvalidPatch)
}

func TestPatch_OnlyOneStepProcessing(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	next, err := core.Patch{
		Step: &core.StepPatch{Name: core.StepTextAnalysis, Status: core.StepStatusProcessing},
	}.Apply(job, time.Now())
	require.NoError(t, err)

	_, err = core.Patch{
		Step: &core.StepPatch{Name: core.StepAudioGeneration, Status: core.StepStatusProcessing},
	}.Apply(next, time.Now())
	require.ErrorIs(t, err, core.ErrInvalidPatch)
}

func TestPatch_CompletedRequiresResult(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	processing, err := core.Patch{Status: core.StatusPtr(core.JobStatusProcessing)}.Apply(job, time.Now())
	require.NoError(t, err)

	_, err = core.Patch{Status: core.StatusPtr(core.JobStatusCompleted)}.Apply(processing, time.Now())
	require.ErrorIs(t, err, core.ErrInvalidPatch)

	done, err := core.Patch{
		Status: core.StatusPtr(core.JobStatusCompleted),
		Result: &core.Result{VideoURL: "v", AudioURL: "a"},
	}.Apply(processing, time.Now())
	require.NoError(t, err)
	require.NotNil(t, done.Result)
	assert.Equal(t, "v", done.Result.VideoURL)
}

func TestPatch_ErrorRequiresFailedStatus(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	_, err := core.Patch{Error: core.StringPtr("boom")}.Apply(job, time.Now())
	require.ErrorIs(t, err, core.ErrInvalidPatch)
}

func TestPatch_InvalidTransition(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	_, err := core.Patch{
		Status: core.StatusPtr(core.JobStatusCompleted),
		Result: &core.Result{},
	}.Apply(job, time.Now())
	require.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestPatch_FailCurrentStep(t *testing.T) {
	t.Parallel()

	job := newTestJob()

	next, err := core.Patch{
		Status: core.StatusPtr(core.JobStatusProcessing),
		Step:   &core.StepPatch{Name: core.StepTextAnalysis, Status: core.StepStatusProcessing},
	}.Apply(job, time.Now())
	require.NoError(t, err)

	failed, err := core.Patch{
		Status:          core.StatusPtr(core.JobStatusFailed),
		Error:           core.StringPtr("boom"),
		FailCurrentStep: true,
	}.Apply(next, time.Now())
	require.NoError(t, err)

	step, ok := failed.Step(core.StepTextAnalysis)
	require.True(t, ok)
	assert.Equal(t, core.StepStatusFailed, step.Status)
	assert.Equal(t, "boom", failed.Error)
}

func TestSettings_WithDefaults(t *testing.T) {
	t.Parallel()

	settings := core.Settings{Voice: "drew"}.WithDefaults()

	assert.Equal(t, "drew", settings.Voice)
	assert.Equal(t, core.DefaultVideoStyle, settings.VideoStyle)
	assert.Equal(t, core.DefaultLanguage, settings.Language)
	assert.InEpsilon(t, core.DefaultSpeed, settings.Speed, 0.001)
}
