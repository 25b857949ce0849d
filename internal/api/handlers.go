package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/lecture"
	"github.com/book-expert/lecture-service/internal/objectstore"
	"github.com/book-expert/lecture-service/internal/tts"
	"github.com/book-expert/lecture-service/internal/video"
	"github.com/gin-gonic/gin"
)

const hoursPerDay = 24

type generateResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	JobID                string `json:"jobId"`
	EstimatedTime        string `json:"estimatedTime"`
	EstimatedTimeSeconds int    `json:"estimatedTimeSeconds"`
}

type statusResponse struct {
	Success bool `json:"success"`
	*lecture.StatusView
}

type cleanupRequest struct {
	OlderThanHours *float64 `json:"olderThanHours"`
}

func (h *Handlers) generateLecture(c *gin.Context) {
	var req lecture.GenerateRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid JSON body: "+err.Error())

		return
	}

	submission, err := h.service.Submit(c.Request.Context(), clientKey(c), req)
	if err != nil {
		h.respondError(c, err, "Failed to start lecture generation")

		return
	}

	c.JSON(http.StatusAccepted, generateResponse{
		Success:              true,
		Message:              "Lecture generation started",
		JobID:                submission.Job.ID,
		EstimatedTime:        fmt.Sprintf("%d minutes", submission.Estimate.Minutes),
		EstimatedTimeSeconds: submission.Estimate.Seconds,
	})
}

func (h *Handlers) processingStatus(c *gin.Context) {
	view, err := h.service.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.respondError(c, err, "Failed to get processing status")

		return
	}

	c.JSON(http.StatusOK, statusResponse{Success: true, StatusView: view})
}

func (h *Handlers) cancelJob(c *gin.Context) {
	job, err := h.service.Cancel(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.respondError(c, err, "Failed to cancel job")

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": job.ID, "status": job.Status})
}

func (h *Handlers) listJobs(c *gin.Context) {
	views, err := h.service.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(views), "jobs": views})
}

func (h *Handlers) cleanupTemp(c *gin.Context) {
	var req cleanupRequest

	err := c.ShouldBindJSON(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		respondMessage(c, http.StatusBadRequest, "Invalid JSON body: "+err.Error())

		return
	}

	age := h.defaultCleanupAge
	if req.OlderThanHours != nil {
		if *req.OlderThanHours < 0 {
			respondMessage(c, http.StatusBadRequest, "olderThanHours must not be negative")

			return
		}

		age = time.Duration(*req.OlderThanHours * float64(time.Hour))
	}

	report := h.service.Cleanup(c.Request.Context(), age)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      fmt.Sprintf("Cleaned up %d temporary files", report.DeletedFiles),
		"deletedCount": report.DeletedFiles,
		"removedJobs":  report.RemovedJobs,
	})
}

func (h *Handlers) textToSpeech(c *gin.Context) {
	var req lecture.SpeechRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid JSON body: "+err.Error())

		return
	}

	result, err := h.service.TextToSpeech(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to generate audio")

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Audio generated successfully",
		"audioUrl": result.URL,
		"publicId": result.PublicID,
		"size":     result.Size,
	})
}

func (h *Handlers) availableVoices(c *gin.Context) {
	catalogue := tts.AvailableVoices()

	c.JSON(http.StatusOK, gin.H{"success": true, "voices": catalogue.Voices, "languages": catalogue.Languages})
}

func (h *Handlers) availableVideoStyles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "styles": video.Styles()})
}

func (h *Handlers) downloadFile(c *gin.Context) {
	publicID := strings.TrimPrefix(c.Param("publicId"), "/")
	if publicID == "" {
		respondMessage(c, http.StatusBadRequest, "File id is required")

		return
	}

	object, err := h.files.Download(c.Request.Context(), publicID)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			respondMessage(c, http.StatusNotFound, "File not found")

			return
		}

		h.respondError(c, err, "Failed to read file")

		return
	}

	c.Data(http.StatusOK, object.ContentType, object.Data)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"version":   h.version,
		"timestamp": time.Now().UTC(),
	})
}

// speechAvailable reports false only when a configured synthesizer fails its health check.
func (h *Handlers) speechAvailable(ctx context.Context) bool {
	if h.speech == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := h.speech.HealthCheck(ctx)
	if err != nil {
		h.log.Warn("Text-to-speech health check failed: %v", err)

		return false
	}

	return true
}

func (h *Handlers) serviceStatus(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to get service status")

		return
	}

	uptime := time.Since(h.startedAt)

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"service":     serviceName,
		"version":     h.version,
		"uptime":      uptime.Round(time.Second).String(),
		"uptimeDays":  int(uptime.Hours() / hoursPerDay),
		"workers":     stats.Workers,
		"queueLength": stats.QueueLength,
		"jobs":        stats.Jobs,
		"features": gin.H{
			"textToSpeech":    h.speechAvailable(c.Request.Context()),
			"videoGeneration": true,
			"fileStorage":     h.files != nil,
		},
	})
}

// respondError maps service errors onto status codes. Anything unrecognised is a 500 with fallback.
func (h *Handlers) respondError(c *gin.Context, err error, fallback string) {
	var validationErr *core.ValidationError

	switch {
	case errors.As(err, &validationErr):
		respondMessage(c, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, core.ErrJobNotFound):
		respondMessage(c, http.StatusNotFound, "Job not found")
	case errors.Is(err, core.ErrJobTerminal), errors.Is(err, core.ErrInvalidTransition):
		respondMessage(c, http.StatusConflict, err.Error())
	case errors.Is(err, lecture.ErrRateLimitExceeded):
		respondMessage(c, http.StatusTooManyRequests, "Too many lecture requests, try again later")
	case errors.Is(err, lecture.ErrUnavailable):
		respondMessage(c, http.StatusServiceUnavailable, "Lecture generation is busy, try again later")
	case core.IsCapabilityError(err):
		h.log.Error("%s: %v", fallback, err)
		respondMessage(c, http.StatusBadGateway, fallback)
	default:
		h.log.Error("%s: %v", fallback, err)
		respondMessage(c, http.StatusInternalServerError, fallback)
	}
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
