// Package core defines the domain model and the narrow interfaces the lecture
// pipeline talks to: the job store and the speech, video and blob capabilities.
package core

import (
	"context"
	"time"
)

// BlobKind classifies an uploaded artifact.
type BlobKind string

const (
	BlobKindAudio BlobKind = "audio"
	BlobKindVideo BlobKind = "video"
	BlobKindImage BlobKind = "image"
)

// Storage folders used by the pipeline and the retention sweep.
const (
	FolderLectures   = "lectures"
	FolderAudio      = "audio"
	FolderThumbnails = "thumbnails"
	FolderTemp       = "temp"
)

// VoiceSettings selects how a transcript is spoken.
type VoiceSettings struct {
	Voice    string
	Language string
	Speed    float64
}

// SpeechSynthesizer turns text into audio bytes. Callers keep text within MaxTextLength.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, settings VoiceSettings) ([]byte, error)
}

// StyleSettings selects the look of a rendered video.
type StyleSettings struct {
	Style string
}

// RenderRequest is the input of a single video render.
type RenderRequest struct {
	Text  string
	Audio []byte
	Style StyleSettings
	Title string
	// WorkDir is a scratch directory owned by the caller. When empty the renderer uses its own.
	WorkDir string
}

// RenderOutput is a rendered video with an optional thumbnail.
type RenderOutput struct {
	Video     []byte
	Thumbnail []byte
	Duration  float64
}

// VideoRenderer builds a narrated video from text and audio.
type VideoRenderer interface {
	Render(ctx context.Context, req RenderRequest) (*RenderOutput, error)
}

// UploadRequest describes one artifact to store.
type UploadRequest struct {
	Data     []byte
	Filename string
	Folder   string
	Kind     BlobKind
	Duration float64
}

// UploadResult is where an artifact ended up.
type UploadResult struct {
	URL      string
	PublicID string
	Size     int64
	Duration float64
}

// BlobStore persists generated artifacts.
type BlobStore interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	Delete(ctx context.Context, publicID string) error
	ListOlderThan(ctx context.Context, folder string, age time.Duration) ([]string, error)
}

// StatusUpdate is what an external status collaborator is told about a job.
type StatusUpdate struct {
	JobID     string
	SubjectID string
	Status    JobStatus
	Progress  int
	Error     string
	Result    *Result
	Timestamp time.Time
}

// StatusNotifier forwards job state changes to an external collaborator.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, update StatusUpdate) error
}

// JobStore owns job records. Every method is atomic with respect to concurrent callers
// and returns copies, never shared pointers.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, patch Patch) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
	RemoveOlderThan(ctx context.Context, age time.Duration) (int, error)
	Close() error
}
