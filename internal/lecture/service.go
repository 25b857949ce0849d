// Package lecture is the application layer between the transports (HTTP, NATS)
// and the pipeline: it validates requests, creates and queues jobs, builds the
// status views callers poll and runs the retention sweep.
package lecture

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
	"github.com/book-expert/lecture-service/internal/estimate"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/pipeline"
	"github.com/book-expert/lecture-service/internal/tts"
	"github.com/book-expert/lecture-service/internal/tts/text"
	"github.com/book-expert/lecture-service/internal/video"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Rejection reasons recorded on the jobs_rejected metric.
const (
	reasonInvalid     = "invalid"
	reasonRateLimited = "rate_limited"
	reasonQueueFull   = "queue_full"
	reasonClosed      = "shutting_down"
)

var (
	// ErrRateLimitExceeded is returned when a client submits too many jobs.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrUnavailable is returned when the worker pool cannot take more jobs.
	ErrUnavailable = errors.New("lecture generation is temporarily unavailable")
	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("lecture service dependency is missing")
)

// Queue accepts job ids for background execution.
type Queue interface {
	Submit(jobID string) error
	QueueLength() int
	Workers() int
}

// Canceller moves a job to cancelled.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) (*core.Job, error)
}

// Dependencies are the collaborators of the Service. Metrics, Limiter and WorkDir are optional.
type Dependencies struct {
	Store       core.JobStore
	Queue       Queue
	Canceller   Canceller
	Synthesizer core.SpeechSynthesizer
	Blobs       core.BlobStore
	Estimator   estimate.Model
	Limiter     *RateLimiter
	Metrics     *metrics.Metrics
	// WorkDir is the pipeline scratch directory swept by Cleanup.
	WorkDir string
}

// Service implements the lecture generation use cases.
type Service struct {
	store       core.JobStore
	queue       Queue
	canceller   Canceller
	synthesizer core.SpeechSynthesizer
	blobs       core.BlobStore
	estimator   estimate.Model
	limiter     *RateLimiter
	metrics     *metrics.Metrics
	workDir     string
	log         *logger.Logger
	newID       func() string
	now         func() time.Time
}

// NewService validates deps and builds a Service.
func NewService(deps Dependencies, log *logger.Logger) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: job store", ErrMissingDependency)
	case deps.Queue == nil:
		return nil, fmt.Errorf("%w: job queue", ErrMissingDependency)
	case deps.Canceller == nil:
		return nil, fmt.Errorf("%w: canceller", ErrMissingDependency)
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("%w: speech synthesizer", ErrMissingDependency)
	case deps.Blobs == nil:
		return nil, fmt.Errorf("%w: blob store", ErrMissingDependency)
	case log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	estimator := deps.Estimator
	if estimator.BaseSeconds == 0 {
		estimator = estimate.DefaultModel()
	}

	return &Service{
		store:       deps.Store,
		queue:       deps.Queue,
		canceller:   deps.Canceller,
		synthesizer: deps.Synthesizer,
		blobs:       deps.Blobs,
		estimator:   estimator,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		workDir:     deps.WorkDir,
		log:         log,
		newID:       uuid.NewString,
		now:         time.Now,
	}, nil
}

// GenerateRequest is the body of a lecture generation request.
type GenerateRequest struct {
	LectureID  string        `json:"lectureId"`
	SourceText string        `json:"sourceText"`
	Settings   core.Settings `json:"settings"`
}

// spoken is the preprocessing the pipeline applies before synthesis.
var spoken = text.NewPreprocessor()

// Submission is an accepted job and its predicted processing time.
type Submission struct {
	Job      *core.Job
	Estimate estimate.Estimate
}

// Validate checks a generation request without side effects.
func Validate(req GenerateRequest) error {
	if strings.TrimSpace(req.LectureID) == "" {
		return core.NewValidationError("lectureId", "is required")
	}

	trimmed := strings.TrimSpace(req.SourceText)
	if trimmed == "" {
		return core.NewValidationError("sourceText", "is required")
	}

	if utf8.RuneCountInString(trimmed) < core.MinSourceTextLength {
		return core.NewValidationError("sourceText", "must be at least %d characters", core.MinSourceTextLength)
	}

	err := validateLength("sourceText", req.SourceText)
	if err != nil {
		return err
	}

	return validateSettings(req.Settings)
}

// validateLength bounds both the submitted text and its spoken form, which grows
// when numbers and abbreviations are written out.
func validateLength(field, value string) error {
	if utf8.RuneCountInString(value) > core.MaxTextLength {
		return core.NewValidationError(field, "must be at most %d characters", core.MaxTextLength)
	}

	if utf8.RuneCountInString(spoken.PreprocessText(value)) > core.MaxTextLength {
		return core.NewValidationError(field, "must be at most %d characters once numbers and abbreviations are spelled out",
			core.MaxTextLength)
	}

	return nil
}

func validateSettings(settings core.Settings) error {
	err := validateSpeed(settings.Speed)
	if err != nil {
		return err
	}

	err = validateVoice("settings.voice", settings.Voice)
	if err != nil {
		return err
	}

	if settings.VideoStyle != "" && !video.IsKnownStyle(settings.VideoStyle) {
		return core.NewValidationError("settings.videoStyle", "unknown style %q", settings.VideoStyle)
	}

	return nil
}

func validateVoice(field, voice string) error {
	if voice != "" && !tts.IsKnownVoice(voice) {
		return core.NewValidationError(field, "unknown voice %q", voice)
	}

	return nil
}

func validateSpeed(speed float64) error {
	if speed != 0 && (speed < core.MinSpeed || speed > core.MaxSpeed) {
		return core.NewValidationError("speed", "must be between %.2f and %.1f", core.MinSpeed, core.MaxSpeed)
	}

	return nil
}

// Submit validates req, stores a pending job and queues it. clientKey scopes the rate limit.
func (s *Service) Submit(ctx context.Context, clientKey string, req GenerateRequest) (*Submission, error) {
	err := s.limiter.CheckSubmissionRate(clientKey)
	if err != nil {
		s.metrics.JobRejected(reasonRateLimited)
		s.log.Warn("Rejected submission from %s: %v", clientKey, err)

		return nil, err
	}

	err = Validate(req)
	if err != nil {
		s.metrics.JobRejected(reasonInvalid)

		return nil, err
	}

	settings := req.Settings.WithDefaults()
	job := core.NewJob(s.newID(), strings.TrimSpace(req.LectureID), core.Inputs{
		SourceText: req.SourceText,
		Settings:   req.Settings,
	}, s.now().UTC())

	err = s.store.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	err = s.queue.Submit(job.ID)
	if err != nil {
		return nil, s.rejectQueued(ctx, job, err)
	}

	s.metrics.JobSubmitted()
	s.log.Info("job_id=%s: job submitted for lecture %s, %d words, style %s",
		job.ID, job.SubjectID, text.WordCount(req.SourceText), settings.VideoStyle)

	return &Submission{Job: job, Estimate: s.estimator.Total(req.SourceText, settings)}, nil
}

// rejectQueued fails a stored job the pool refused so it never lingers as pending.
func (s *Service) rejectQueued(ctx context.Context, job *core.Job, cause error) error {
	reason := reasonQueueFull
	if errors.Is(cause, pipeline.ErrPoolClosed) {
		reason = reasonClosed
	}

	s.metrics.JobRejected(reason)
	s.log.Warn("job_id=%s: not queued: %v", job.ID, cause)

	_, err := s.store.Update(context.WithoutCancel(ctx), job.ID, core.Patch{
		Status: core.StatusPtr(core.JobStatusFailed),
		Error:  core.StringPtr(cause.Error()),
	})
	if err != nil {
		s.log.Error("job_id=%s: failed to mark unqueued job as failed: %v", job.ID, err)
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

// StatusView is what a caller polling a job sees. Result fields are inlined once completed.
type StatusView struct {
	JobID                  string         `json:"jobId"`
	LectureID              string         `json:"lectureId"`
	Status                 core.JobStatus `json:"status"`
	Progress               int            `json:"progress"`
	CurrentStep            core.StepName  `json:"currentStep,omitempty"`
	Steps                  []core.Step    `json:"steps"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
	CompletedAt            *time.Time     `json:"completedAt,omitempty"`
	CancelledAt            *time.Time     `json:"cancelledAt,omitempty"`
	Error                  string         `json:"error,omitempty"`
	EstimatedTimeRemaining string         `json:"estimatedTimeRemaining,omitempty"`

	*core.Result
}

// Status returns the view of job id. It depends only on the stored job, so
// polling an unchanged job returns the same view.
func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.view(job), nil
}

func (s *Service) view(job *core.Job) *StatusView {
	view := &StatusView{
		JobID:       job.ID,
		LectureID:   job.SubjectID,
		Status:      job.Status,
		Progress:    job.Progress,
		Steps:       job.Steps,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
		CancelledAt: job.CancelledAt,
	}

	if step, ok := job.CurrentStep(); ok {
		view.CurrentStep = step.Name
	}

	switch job.Status {
	case core.JobStatusCompleted:
		view.Result = job.Result
	case core.JobStatusFailed:
		view.Error = job.Error
	case core.JobStatusPending, core.JobStatusProcessing:
		view.EstimatedTimeRemaining = s.estimator.Remaining(job)
	case core.JobStatusCancelled:
	}

	return view
}

// Cancel stops a pending or processing job.
func (s *Service) Cancel(ctx context.Context, id string) (*core.Job, error) {
	return s.canceller.Cancel(ctx, id)
}

// List returns views of every job, newest first.
func (s *Service) List(ctx context.Context) ([]*StatusView, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*StatusView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, s.view(job))
	}

	return views, nil
}

// Stats summarises the service for the status endpoint.
type Stats struct {
	Workers     int                    `json:"workers"`
	QueueLength int                    `json:"queueLength"`
	Jobs        map[core.JobStatus]int `json:"jobs"`
}

// Stats counts jobs by status and reports the pool occupancy.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[core.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}

	return &Stats{Workers: s.queue.Workers(), QueueLength: s.queue.QueueLength(), Jobs: counts}, nil
}

// SpeechRequest is a one-off text-to-speech preview request.
type SpeechRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	Language string  `json:"language"`
}

// TextToSpeech synthesizes a preview and stores it in the temp folder, which Cleanup sweeps.
func (s *Service) TextToSpeech(ctx context.Context, req SpeechRequest) (*core.UploadResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, core.NewValidationError("text", "is required")
	}

	err := validateLength("text", req.Text)
	if err != nil {
		return nil, err
	}

	err = validateSpeed(req.Speed)
	if err != nil {
		return nil, err
	}

	err = validateVoice("voice", req.Voice)
	if err != nil {
		return nil, err
	}

	settings := core.Settings{Voice: req.Voice, Speed: req.Speed, Language: req.Language}.WithDefaults()

	audio, err := s.synthesizer.Synthesize(ctx, spoken.PreprocessText(req.Text), core.VoiceSettings{
		Voice:    settings.Voice,
		Language: settings.Language,
		Speed:    settings.Speed,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.blobs.Upload(ctx, core.UploadRequest{
		Data:     audio,
		Filename: "tts-" + s.newID() + ".mp3",
		Folder:   core.FolderTemp,
		Kind:     core.BlobKindAudio,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ArtifactUploaded(core.BlobKindAudio, result.Size)
	s.log.Info("Speech preview stored at %s", result.PublicID)

	return result, nil
}

// CleanupReport counts what a retention sweep removed.
type CleanupReport struct {
	DeletedFiles int `json:"deletedCount"`
	RemovedJobs  int `json:"removedJobs"`
}

// Cleanup removes finished jobs, temp blobs and scratch directories older than age.
// Pending and processing jobs and their scratch directories are never removed.
// Individual failures are logged and do not stop the sweep.
func (s *Service) Cleanup(ctx context.Context, age time.Duration) CleanupReport {
	var report CleanupReport

	removed, err := s.store.RemoveOlderThan(ctx, age)
	if err != nil {
		s.log.Error("Failed to remove old jobs: %v", err)
	} else {
		report.RemovedJobs = removed
	}

	report.DeletedFiles += s.sweepTempBlobs(ctx, age)
	report.DeletedFiles += s.sweepWorkDir(ctx, age)

	pruned := s.limiter.Prune()

	s.log.Info("Cleanup removed %d jobs and %d files older than %s, pruned %d rate limit windows",
		report.RemovedJobs, report.DeletedFiles, age, pruned)

	return report
}

func (s *Service) sweepTempBlobs(ctx context.Context, age time.Duration) int {
	ids, err := s.blobs.ListOlderThan(ctx, core.FolderTemp, age)
	if err != nil {
		s.log.Error("Failed to list temp blobs: %v", err)

		return 0
	}

	deleted := 0

	for _, id := range ids {
		err = s.blobs.Delete(ctx, id)
		if err != nil {
			s.log.Warn("Failed to delete temp blob %s: %v", id, err)

			continue
		}

		deleted++
	}

	return deleted
}

func (s *Service) isActive(ctx context.Context, jobID string) bool {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return false
	}

	return !job.Status.IsTerminal()
}

// sweepWorkDir removes stale scratch directories. A directory is named after its
// job and is kept while that job is still pending or processing.
func (s *Service) sweepWorkDir(ctx context.Context, age time.Duration) int {
	if s.workDir == "" {
		return 0
	}

	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Error("Failed to read work dir %s: %v", s.workDir, err)
		}

		return 0
	}

	cutoff := s.now().Add(-age)
	deleted := 0

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) || s.isActive(ctx, entry.Name()) {
			continue
		}

		path := filepath.Join(s.workDir, entry.Name())

		err = os.RemoveAll(path)
		if err != nil {
			s.log.Warn("Failed to remove %s: %v", path, err)

			continue
		}

		deleted++
	}

	return deleted
}

// RunCleanup sweeps every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval, age time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(ctx, age)
		}
	}
}
