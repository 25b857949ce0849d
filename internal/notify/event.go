// Package notify tells external collaborators about lecture job state changes:
// the backend API over HTTP, NATS subscribers and a RabbitMQ queue.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/google/uuid"
)

const contentTypeJSON = "application/json"

// StatusEvent is the message published on NATS and RabbitMQ for every job update.
type StatusEvent struct {
	Header       events.EventHeader `json:"header"`
	JobID        string             `json:"jobId"`
	LectureID    string             `json:"lectureId"`
	Status       core.JobStatus     `json:"status"`
	Progress     int                `json:"progress"`
	Error        string             `json:"error,omitempty"`
	VideoURL     string             `json:"videoUrl,omitempty"`
	AudioURL     string             `json:"audioUrl,omitempty"`
	ThumbnailURL string             `json:"thumbnailUrl,omitempty"`
	Duration     float64            `json:"duration,omitempty"`
}

// NewStatusEvent builds the event for update. The job id doubles as the workflow id.
func NewStatusEvent(update core.StatusUpdate) StatusEvent {
	timestamp := update.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	event := StatusEvent{
		Header: events.EventHeader{
			Timestamp:  timestamp,
			WorkflowID: update.JobID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		JobID:     update.JobID,
		LectureID: update.SubjectID,
		Status:    update.Status,
		Progress:  update.Progress,
		Error:     update.Error,
	}

	if update.Result != nil {
		event.VideoURL = update.Result.VideoURL
		event.AudioURL = update.Result.AudioURL
		event.ThumbnailURL = update.Result.ThumbnailURL
		event.Duration = update.Result.Duration
	}

	return event
}

// Multi fans an update out to every notifier and joins their errors.
type Multi []core.StatusNotifier

// NotifyStatus calls every notifier even when an earlier one fails.
func (m Multi) NotifyStatus(ctx context.Context, update core.StatusUpdate) error {
	var errs []error

	for _, notifier := range m {
		err := notifier.NotifyStatus(ctx, update)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
