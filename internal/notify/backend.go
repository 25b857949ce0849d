package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
)

const (
	statusPathFormat     = "%s/api/lectures/%s/ai-status"
	completionPathFormat = "%s/api/lectures/%s/ai-completion"
	maxErrorBodyBytes    = 512
)

// ErrBackendStatus is returned when the backend answers with a non-2xx status.
var ErrBackendStatus = errors.New("backend rejected status update")

// BackendNotifier reports job progress to the lecture backend API.
type BackendNotifier struct {
	httpClient *http.Client
	baseURL    string
}

// NewBackendNotifier creates a notifier for the backend at baseURL.
func NewBackendNotifier(baseURL string, timeout time.Duration) *BackendNotifier {
	return &BackendNotifier{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type statusPayload struct {
	Status       core.JobStatus `json:"status"`
	Progress     int            `json:"progress"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

type artifactURLs struct {
	Audio     string `json:"audio"`
	Video     string `json:"video"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type completionPayload struct {
	Status      core.JobStatus `json:"status"`
	Progress    int            `json:"progress"`
	ProcessedAt float64        `json:"processedAt"`
	URLs        artifactURLs   `json:"urls"`
	Duration    float64        `json:"duration"`
}

// NotifyStatus sends completed jobs to the completion endpoint and every other
// update to the status endpoint.
func (b *BackendNotifier) NotifyStatus(ctx context.Context, update core.StatusUpdate) error {
	lectureID := url.PathEscape(update.SubjectID)

	if update.Status == core.JobStatusCompleted && update.Result != nil {
		return b.put(ctx, fmt.Sprintf(completionPathFormat, b.baseURL, lectureID), completionPayload{
			Status:      update.Status,
			Progress:    update.Progress,
			ProcessedAt: float64(update.Timestamp.UnixMilli()) / 1000,
			URLs: artifactURLs{
				Audio:     update.Result.AudioURL,
				Video:     update.Result.VideoURL,
				Thumbnail: update.Result.ThumbnailURL,
			},
			Duration: update.Result.Duration,
		})
	}

	return b.put(ctx, fmt.Sprintf(statusPathFormat, b.baseURL, lectureID), statusPayload{
		Status:       update.Status,
		Progress:     update.Progress,
		ErrorMessage: update.Error,
	})
}

func (b *BackendNotifier) put(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal status payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send status update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return fmt.Errorf("%w: %s: %s", ErrBackendStatus, resp.Status, strings.TrimSpace(string(detail)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
