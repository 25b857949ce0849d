package core

import "time"

// JobStatus is the lifecycle state of a lecture generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition out of the status is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the state of a single pipeline stage.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusProcessing StepStatus = "processing"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// StepName identifies one of the fixed pipeline stages.
type StepName string

const (
	StepTextAnalysis     StepName = "text_analysis"
	StepAudioGeneration  StepName = "audio_generation"
	StepVideoGeneration  StepName = "video_generation"
	StepUploadProcessing StepName = "upload_processing"
	StepFinalization     StepName = "finalization"
)

// StepOrder is the order every job runs its stages in.
var StepOrder = []StepName{
	StepTextAnalysis,
	StepAudioGeneration,
	StepVideoGeneration,
	StepUploadProcessing,
	StepFinalization,
}

// Default settings used when the caller leaves a field empty.
const (
	DefaultVoice      = "rachel"
	DefaultVideoStyle = "presentation"
	DefaultLanguage   = "en"
	DefaultSpeed      = 1.0

	MinSpeed = 0.25
	MaxSpeed = 2.0

	// MinSourceTextLength is the shortest trimmed transcript accepted.
	MinSourceTextLength = 10
	// MaxTextLength bounds the text handed to the speech synthesizer.
	MaxTextLength = 10000
)

// Step is the per-stage sub-record of a Job.
type Step struct {
	Name     StepName   `json:"name"`
	Status   StepStatus `json:"status"`
	Progress int        `json:"progress"`
}

// Settings carries the caller-tunable generation parameters.
type Settings struct {
	Voice      string  `json:"voice,omitempty"`
	VideoStyle string  `json:"videoStyle,omitempty"`
	Language   string  `json:"language,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Title      string  `json:"title,omitempty"`
}

// WithDefaults returns a copy with every empty field filled in.
func (s Settings) WithDefaults() Settings {
	if s.Voice == "" {
		s.Voice = DefaultVoice
	}

	if s.VideoStyle == "" {
		s.VideoStyle = DefaultVideoStyle
	}

	if s.Language == "" {
		s.Language = DefaultLanguage
	}

	if s.Speed == 0 {
		s.Speed = DefaultSpeed
	}

	return s
}

// Inputs is the original request, retained for the lifetime of the job.
type Inputs struct {
	SourceText string   `json:"sourceText"`
	Settings   Settings `json:"settings"`
}

// Result holds the outputs of a completed job.
type Result struct {
	VideoURL          string    `json:"videoUrl"`
	AudioURL          string    `json:"audioUrl"`
	ThumbnailURL      string    `json:"thumbnailUrl,omitempty"`
	PublicID          string    `json:"publicId"`
	AudioPublicID     string    `json:"audioPublicId"`
	ThumbnailPublicID string    `json:"thumbnailPublicId,omitempty"`
	Duration          float64   `json:"duration"`
	FileSize          int64     `json:"fileSize"`
	AudioSize         int64     `json:"audioSize"`
	Transcript        string    `json:"transcript"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

// Job is one end-to-end request to turn text into a narrated video.
type Job struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"lectureId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Steps       []Step     `json:"steps"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Inputs      Inputs     `json:"inputs"`
}

// NewJob builds a pending job with every step pending.
func NewJob(id, subjectID string, inputs Inputs, now time.Time) *Job {
	steps := make([]Step, 0, len(StepOrder))
	for _, name := range StepOrder {
		steps = append(steps, Step{Name: name, Status: StepStatusPending, Progress: 0})
	}

	return &Job{
		ID:        id,
		SubjectID: subjectID,
		Status:    JobStatusPending,
		Progress:  0,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
		Inputs:    inputs,
	}
}

// Clone returns a deep copy so callers never share state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	out := *j
	out.Steps = append([]Step(nil), j.Steps...)

	if j.Result != nil {
		result := *j.Result
		out.Result = &result
	}

	if j.CompletedAt != nil {
		completedAt := *j.CompletedAt
		out.CompletedAt = &completedAt
	}

	if j.CancelledAt != nil {
		cancelledAt := *j.CancelledAt
		out.CancelledAt = &cancelledAt
	}

	return &out
}

// Step returns the step with the given name.
func (j *Job) Step(name StepName) (Step, bool) {
	for _, step := range j.Steps {
		if step.Name == name {
			return step, true
		}
	}

	return Step{}, false
}

// CurrentStep returns the step currently processing, if any.
func (j *Job) CurrentStep() (Step, bool) {
	for _, step := range j.Steps {
		if step.Status == StepStatusProcessing {
			return step, true
		}
	}

	return Step{}, false
}
