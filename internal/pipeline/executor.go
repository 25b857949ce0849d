// Package pipeline runs lecture jobs through their five stages and owns every
// status, progress and step change a job goes through after it is created.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fileutil"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/tts/text"
	"github.com/book-expert/logger"
)

const (
	defaultStageTimeout  = 5 * time.Minute
	defaultNotifyTimeout = 10 * time.Second
	titlePrefix          = "Generated Lecture - "
)

var (
	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("pipeline dependency is missing")
	// ErrNoSpeakableText is returned when preprocessing leaves nothing to synthesize.
	ErrNoSpeakableText = errors.New("no speakable text after preprocessing")
	// ErrTranscriptTooLong is returned when the spoken form of the text exceeds the synthesizer bound.
	ErrTranscriptTooLong = errors.New("transcript exceeds the speech synthesis limit")
	// errStopped signals that the job turned terminal under the executor, usually by cancellation.
	errStopped = errors.New("job stopped")
)

// Checkpoints are the job progress values reached when each stage completes.
type Checkpoints struct {
	TextAnalysis     int
	AudioGeneration  int
	VideoGeneration  int
	UploadProcessing int
	Finalization     int
	// AudioUploaded is the upload step's own progress once the audio is stored.
	AudioUploaded int
}

// DefaultCheckpoints returns the progress values used by the service.
func DefaultCheckpoints() Checkpoints {
	return Checkpoints{
		TextAnalysis:     20,
		AudioGeneration:  40,
		VideoGeneration:  70,
		UploadProcessing: 90,
		Finalization:     100,
		AudioUploaded:    50,
	}
}

func (c Checkpoints) forStep(name core.StepName) int {
	switch name {
	case core.StepTextAnalysis:
		return c.TextAnalysis
	case core.StepAudioGeneration:
		return c.AudioGeneration
	case core.StepVideoGeneration:
		return c.VideoGeneration
	case core.StepUploadProcessing:
		return c.UploadProcessing
	case core.StepFinalization:
		return c.Finalization
	default:
		return 0
	}
}

// Config tunes the executor.
type Config struct {
	// StageTimeout bounds every capability call.
	StageTimeout time.Duration
	// NotifyTimeout bounds each status notification.
	NotifyTimeout time.Duration
	// MaxTextLength is the synthesizer's input bound in characters.
	MaxTextLength int
	// WorkDir holds per-job scratch directories handed to the renderer. Empty disables them.
	WorkDir     string
	Checkpoints Checkpoints
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = defaultStageTimeout
	}

	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = defaultNotifyTimeout
	}

	if c.MaxTextLength <= 0 {
		c.MaxTextLength = core.MaxTextLength
	}

	if c.Checkpoints == (Checkpoints{}) {
		c.Checkpoints = DefaultCheckpoints()
	}

	return c
}

// Dependencies are the collaborators the executor drives. Notifier and Metrics are optional.
type Dependencies struct {
	Store       core.JobStore
	Synthesizer core.SpeechSynthesizer
	Renderer    core.VideoRenderer
	Blobs       core.BlobStore
	Notifier    core.StatusNotifier
	Metrics     *metrics.Metrics
}

// Executor runs jobs stage by stage and is the only writer of job progress.
type Executor struct {
	store        core.JobStore
	synthesizer  core.SpeechSynthesizer
	renderer     core.VideoRenderer
	blobs        core.BlobStore
	notifier     core.StatusNotifier
	metrics      *metrics.Metrics
	preprocessor *text.Preprocessor
	log          *logger.Logger
	cfg          Config
	now          func() time.Time
}

// NewExecutor validates deps and builds an executor.
func NewExecutor(deps Dependencies, cfg Config, log *logger.Logger) (*Executor, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: job store", ErrMissingDependency)
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("%w: speech synthesizer", ErrMissingDependency)
	case deps.Renderer == nil:
		return nil, fmt.Errorf("%w: video renderer", ErrMissingDependency)
	case deps.Blobs == nil:
		return nil, fmt.Errorf("%w: blob store", ErrMissingDependency)
	case log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	return &Executor{
		store:        deps.Store,
		synthesizer:  deps.Synthesizer,
		renderer:     deps.Renderer,
		blobs:        deps.Blobs,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		preprocessor: text.NewPreprocessor(),
		log:          log,
		cfg:          cfg.withDefaults(),
		now:          time.Now,
	}, nil
}

// run carries the artifacts produced by one job as it moves through the stages.
type run struct {
	job        *core.Job
	settings   core.Settings
	transcript string
	audio      []byte
	rendered   *core.RenderOutput
	workDir    string
	audioBlob  *core.UploadResult
	videoBlob  *core.UploadResult
	thumbBlob  *core.UploadResult
	uploaded   []string
}

type stageFunc func(ctx context.Context, r *run) error

// Run executes every stage of the job in order. It returns nil when the job
// completes or is cancelled under it, and the stage error when the job fails.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	current, err := e.store.Update(ctx, jobID, core.Patch{Status: core.StatusPtr(core.JobStatusProcessing)})
	if err != nil {
		if errors.Is(err, core.ErrJobTerminal) {
			e.log.Info("job_id=%s: job is %s, skipping", jobID, job.Status)

			return nil
		}

		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	e.log.Info("job_id=%s: processing started for lecture %s", jobID, current.SubjectID)
	e.notify(current)

	state := &run{job: current, settings: current.Inputs.Settings.WithDefaults()}
	if state.settings.Title == "" {
		state.settings.Title = titlePrefix + current.SubjectID
	}

	defer e.removeWorkDir(state)

	stages := []struct {
		name core.StepName
		fn   stageFunc
	}{
		{core.StepTextAnalysis, e.analyzeText},
		{core.StepAudioGeneration, e.generateAudio},
		{core.StepVideoGeneration, e.generateVideo},
		{core.StepUploadProcessing, e.uploadArtifacts},
		{core.StepFinalization, e.finalize},
	}

	for _, stage := range stages {
		err = e.runStage(ctx, state, stage.name, stage.fn)
		if err == nil {
			continue
		}

		if errors.Is(err, errStopped) {
			e.log.Info("job_id=%s: job stopped during %s", jobID, stage.name)
			e.discardUploads(state)

			return nil
		}

		e.failJob(ctx, state, stage.name, err)

		return fmt.Errorf("job %s failed at %s: %w", jobID, stage.name, err)
	}

	return nil
}

// Cancel moves a pending or processing job to cancelled. In-flight capability
// calls are not interrupted; the running executor stops at its next update.
func (e *Executor) Cancel(ctx context.Context, jobID string) (*core.Job, error) {
	now := e.now().UTC()

	job, err := e.store.Update(ctx, jobID, core.Patch{
		Status:      core.StatusPtr(core.JobStatusCancelled),
		CancelledAt: core.TimePtr(now),
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("job_id=%s: job cancelled", jobID)
	e.metrics.JobFinished(core.JobStatusCancelled)
	e.notify(job)

	return job, nil
}

// Abandon fails a job that will never run, recording reason as its error.
// A job that is already terminal is left as it is.
func (e *Executor) Abandon(ctx context.Context, jobID string, reason error) error {
	job, err := e.store.Update(ctx, jobID, core.Patch{
		Status: core.StatusPtr(core.JobStatusFailed),
		Error:  core.StringPtr(reason.Error()),
	})
	if err != nil {
		if errors.Is(err, core.ErrJobTerminal) {
			return nil
		}

		return fmt.Errorf("failed to abandon job %s: %w", jobID, err)
	}

	e.log.Warn("job_id=%s: job abandoned: %v", jobID, reason)
	e.metrics.JobFinished(core.JobStatusFailed)
	e.notify(job)

	return nil
}

func (e *Executor) runStage(ctx context.Context, state *run, name core.StepName, fn stageFunc) error {
	err := e.update(ctx, state, core.Patch{
		Step: &core.StepPatch{Name: name, Status: core.StepStatusProcessing},
	})
	if err != nil {
		return err
	}

	started := e.now()

	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	err = fn(stageCtx, state)

	cancel()

	if err != nil {
		e.metrics.ObserveStage(name, metrics.OutcomeFailure, e.now().Sub(started))

		return err
	}

	e.metrics.ObserveStage(name, metrics.OutcomeSuccess, e.now().Sub(started))

	if name == core.StepFinalization {
		return nil
	}

	err = e.update(ctx, state, core.Patch{
		Progress: core.IntPtr(e.cfg.Checkpoints.forStep(name)),
		Step:     &core.StepPatch{Name: name, Status: core.StepStatusCompleted, Progress: 100},
	})
	if err != nil {
		return err
	}

	e.notify(state.job)

	return nil
}

// update applies patch and keeps the run's job snapshot current.
// A terminal job surfaces as errStopped.
func (e *Executor) update(ctx context.Context, state *run, patch core.Patch) error {
	job, err := e.store.Update(ctx, state.job.ID, patch)
	if err != nil {
		if errors.Is(err, core.ErrJobTerminal) {
			return errStopped
		}

		return fmt.Errorf("failed to update job: %w", err)
	}

	state.job = job

	return nil
}

func (e *Executor) analyzeText(_ context.Context, state *run) error {
	transcript := e.preprocessor.PreprocessText(state.job.Inputs.SourceText)
	if strings.TrimSpace(transcript) == "" {
		return ErrNoSpeakableText
	}

	if length := utf8.RuneCountInString(transcript); length > e.cfg.MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit %d", ErrTranscriptTooLong, length, e.cfg.MaxTextLength)
	}

	state.transcript = transcript

	e.log.Info("job_id=%s: transcript prepared, %d words", state.job.ID, text.WordCount(transcript))

	return nil
}

func (e *Executor) generateAudio(ctx context.Context, state *run) error {
	audio, err := e.synthesizer.Synthesize(ctx, state.transcript, core.VoiceSettings{
		Voice:    state.settings.Voice,
		Language: state.settings.Language,
		Speed:    state.settings.Speed,
	})
	if err != nil {
		return stageError(ctx, err)
	}

	state.audio = audio

	e.log.Info("job_id=%s: audio generated, %s", state.job.ID, fileutil.FormatFileSize(int64(len(audio))))

	return nil
}

func (e *Executor) generateVideo(ctx context.Context, state *run) error {
	workDir, err := e.prepareWorkDir(state.job.ID)
	if err != nil {
		return err
	}

	state.workDir = workDir

	output, err := e.renderer.Render(ctx, core.RenderRequest{
		Text:    state.transcript,
		Audio:   state.audio,
		Style:   core.StyleSettings{Style: state.settings.VideoStyle},
		Title:   state.settings.Title,
		WorkDir: workDir,
	})
	if err != nil {
		return stageError(ctx, err)
	}

	state.rendered = output

	e.log.Info("job_id=%s: video rendered, %s, %s", state.job.ID,
		fileutil.FormatFileSize(int64(len(output.Video))), fileutil.FormatDuration(output.Duration))

	return nil
}

func (e *Executor) uploadArtifacts(ctx context.Context, state *run) error {
	base := fileutil.SanitizeFilename(fmt.Sprintf("lecture-%s-%s", state.job.SubjectID, state.job.ID))

	audio, err := e.upload(ctx, state, core.UploadRequest{
		Data:     state.audio,
		Filename: base + "-audio.mp3",
		Folder:   core.FolderAudio,
		Kind:     core.BlobKindAudio,
		Duration: state.rendered.Duration,
	})
	if err != nil {
		return err
	}

	state.audioBlob = audio

	err = e.update(ctx, state, core.Patch{
		Step: &core.StepPatch{
			Name:     core.StepUploadProcessing,
			Status:   core.StepStatusProcessing,
			Progress: e.cfg.Checkpoints.AudioUploaded,
		},
	})
	if err != nil {
		return err
	}

	video, err := e.upload(ctx, state, core.UploadRequest{
		Data:     state.rendered.Video,
		Filename: base + ".mp4",
		Folder:   core.FolderLectures,
		Kind:     core.BlobKindVideo,
		Duration: state.rendered.Duration,
	})
	if err != nil {
		return err
	}

	state.videoBlob = video

	if len(state.rendered.Thumbnail) == 0 {
		return nil
	}

	thumbnail, err := e.upload(ctx, state, core.UploadRequest{
		Data:     state.rendered.Thumbnail,
		Filename: base + "-thumbnail.jpg",
		Folder:   core.FolderThumbnails,
		Kind:     core.BlobKindImage,
	})
	if err != nil {
		e.log.Warn("job_id=%s: thumbnail upload failed, continuing without it: %v", state.job.ID, err)

		return nil
	}

	state.thumbBlob = thumbnail

	return nil
}

func (e *Executor) upload(ctx context.Context, state *run, req core.UploadRequest) (*core.UploadResult, error) {
	result, err := e.blobs.Upload(ctx, req)
	if err != nil {
		return nil, stageError(ctx, err)
	}

	state.uploaded = append(state.uploaded, result.PublicID)
	e.metrics.ArtifactUploaded(req.Kind, result.Size)

	return result, nil
}

func (e *Executor) finalize(ctx context.Context, state *run) error {
	now := e.now().UTC()

	result := &core.Result{
		VideoURL:      state.videoBlob.URL,
		AudioURL:      state.audioBlob.URL,
		PublicID:      state.videoBlob.PublicID,
		AudioPublicID: state.audioBlob.PublicID,
		Duration:      state.rendered.Duration,
		FileSize:      state.videoBlob.Size,
		AudioSize:     state.audioBlob.Size,
		Transcript:    state.job.Inputs.SourceText,
		GeneratedAt:   now,
	}

	if state.thumbBlob != nil {
		result.ThumbnailURL = state.thumbBlob.URL
		result.ThumbnailPublicID = state.thumbBlob.PublicID
	}

	// The completion write is not bound to the stage deadline.
	err := e.update(context.WithoutCancel(ctx), state, core.Patch{
		Status:      core.StatusPtr(core.JobStatusCompleted),
		Progress:    core.IntPtr(e.cfg.Checkpoints.Finalization),
		Step:        &core.StepPatch{Name: core.StepFinalization, Status: core.StepStatusCompleted, Progress: 100},
		Result:      result,
		CompletedAt: core.TimePtr(now),
	})
	if err != nil {
		return err
	}

	e.log.Info("job_id=%s: lecture completed, video at %s", state.job.ID, result.VideoURL)
	e.metrics.JobFinished(core.JobStatusCompleted)
	e.notify(state.job)

	return nil
}

func (e *Executor) failJob(ctx context.Context, state *run, stage core.StepName, cause error) {
	e.log.Error("job_id=%s: stage %s failed: %v", state.job.ID, stage, cause)

	e.discardUploads(state)

	err := e.update(context.WithoutCancel(ctx), state, core.Patch{
		Status:          core.StatusPtr(core.JobStatusFailed),
		Error:           core.StringPtr(cause.Error()),
		FailCurrentStep: true,
	})
	if err != nil {
		if !errors.Is(err, errStopped) {
			e.log.Error("job_id=%s: failed to record failure: %v", state.job.ID, err)
		}

		return
	}

	e.metrics.JobFinished(core.JobStatusFailed)
	e.notify(state.job)
}

// discardUploads deletes blobs a job uploaded but will never reference.
func (e *Executor) discardUploads(state *run) {
	for _, publicID := range state.uploaded {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StageTimeout)
		err := e.blobs.Delete(ctx, publicID)

		cancel()

		if err != nil {
			e.log.Warn("job_id=%s: failed to delete orphaned blob %s: %v", state.job.ID, publicID, err)

			continue
		}

		e.log.Info("job_id=%s: deleted orphaned blob %s", state.job.ID, publicID)
	}

	state.uploaded = nil
}

func (e *Executor) prepareWorkDir(jobID string) (string, error) {
	if e.cfg.WorkDir == "" {
		return "", nil
	}

	dir := filepath.Join(e.cfg.WorkDir, jobID)

	err := fileutil.EnsureDir(dir)
	if err != nil {
		return "", err
	}

	return dir, nil
}

func (e *Executor) removeWorkDir(state *run) {
	if state.workDir == "" {
		return
	}

	err := os.RemoveAll(state.workDir)
	if err != nil {
		e.log.Warn("job_id=%s: failed to remove work dir %s: %v", state.job.ID, state.workDir, err)
	}
}

func (e *Executor) notify(job *core.Job) {
	if e.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
	defer cancel()

	err := e.notifier.NotifyStatus(ctx, core.StatusUpdate{
		JobID:     job.ID,
		SubjectID: job.SubjectID,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.Error,
		Result:    job.Result,
		Timestamp: job.UpdatedAt,
	})
	if err != nil {
		e.log.Warn("job_id=%s: status notification failed: %v", job.ID, err)
	}
}

// stageError reports a stage deadline as such instead of the capability's wrapped error.
func stageError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stage timed out: %w", err)
	}

	return err
}
