// Package api is the gin HTTP facade over the lecture service.
package api

import (
	"context"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/lecture"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/objectstore"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
)

const (
	serviceName        = "lecture-service"
	healthCheckTimeout = 5 * time.Second
)

// LectureService is the application layer the handlers call.
type LectureService interface {
	Submit(ctx context.Context, clientKey string, req lecture.GenerateRequest) (*lecture.Submission, error)
	Status(ctx context.Context, id string) (*lecture.StatusView, error)
	Cancel(ctx context.Context, id string) (*core.Job, error)
	List(ctx context.Context) ([]*lecture.StatusView, error)
	Stats(ctx context.Context) (*lecture.Stats, error)
	TextToSpeech(ctx context.Context, req lecture.SpeechRequest) (*core.UploadResult, error)
	Cleanup(ctx context.Context, age time.Duration) lecture.CleanupReport
}

// FileSource serves stored artifacts back to callers.
type FileSource interface {
	Download(ctx context.Context, publicID string) (*objectstore.Object, error)
}

// HealthChecker probes a downstream capability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configure the router. Files, Speech, Metrics and JWTSecret are optional.
// Speech is probed by /api/status to report whether text-to-speech is available.
type Options struct {
	Service           LectureService
	Files             FileSource
	Speech            HealthChecker
	Metrics           *metrics.Metrics
	JWTSecret         string
	DefaultCleanupAge time.Duration
	Version           string
}

// Handlers holds the collaborators of the HTTP endpoints.
type Handlers struct {
	service           LectureService
	files             FileSource
	speech            HealthChecker
	metrics           *metrics.Metrics
	log               *logger.Logger
	defaultCleanupAge time.Duration
	version           string
	startedAt         time.Time
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options, log *logger.Logger) *gin.Engine {
	h := &Handlers{
		service:           opts.Service,
		files:             opts.Files,
		speech:            opts.Speech,
		metrics:           opts.Metrics,
		log:               log,
		defaultCleanupAge: opts.DefaultCleanupAge,
		version:           opts.Version,
		startedAt:         time.Now(),
	}

	if h.defaultCleanupAge <= 0 {
		h.defaultCleanupAge = 24 * time.Hour
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log, opts.Metrics))

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	apiRoutes := router.Group("/api")
	if opts.JWTSecret != "" {
		apiRoutes.Use(Auth([]byte(opts.JWTSecret)))
	}

	apiRoutes.GET("/status", h.serviceStatus)
	apiRoutes.POST("/generate-lecture", h.generateLecture)
	apiRoutes.GET("/processing-status/:jobId", h.processingStatus)
	apiRoutes.POST("/processing-status/:jobId/cancel", h.cancelJob)
	apiRoutes.GET("/jobs", h.listJobs)
	apiRoutes.POST("/cleanup-temp", h.cleanupTemp)
	apiRoutes.POST("/text-to-speech", h.textToSpeech)
	apiRoutes.GET("/available-voices", h.availableVoices)
	apiRoutes.GET("/available-video-styles", h.availableVideoStyles)

	if opts.Files != nil {
		apiRoutes.GET("/files/*publicId", h.downloadFile)
	}

	return router
}
