// main package for the lecture-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/book-expert/lecture-service/internal/api"
	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/jobstore"
	"github.com/book-expert/lecture-service/internal/lecture"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/notify"
	"github.com/book-expert/lecture-service/internal/objectstore"
	"github.com/book-expert/lecture-service/internal/pipeline"
	"github.com/book-expert/lecture-service/internal/tts"
	"github.com/book-expert/lecture-service/internal/video"
	"github.com/book-expert/lecture-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

const (
	serviceVersion = "1.0.0"
	dirPermissions = 0o750
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func openJobStore(cfg config.StorageConfig) (core.JobStore, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		return jobstore.NewSQLiteStore(cfg.DSN)
	case config.StoragePostgres:
		return jobstore.NewPostgresStore(cfg.DSN)
	default:
		return jobstore.NewMemoryStore(), nil
	}
}

// notifiers builds the configured status collaborators. The returned closer releases their connections.
func notifiers(cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) (core.StatusNotifier, func(), error) {
	var (
		multi   notify.Multi
		closers []func()
	)

	if cfg.Notify.BackendURL != "" {
		multi = append(multi, notify.NewBackendNotifier(cfg.Notify.BackendURL, config.Seconds(cfg.Notify.BackendTimeoutSeconds)))
		log.Info("Backend status callbacks enabled: %s", cfg.Notify.BackendURL)
	}

	if cfg.Notify.PublishNATS {
		multi = append(multi, notify.NewNatsPublisher(natsConnection, cfg.NATS.StatusSubject))
		log.Info("NATS status events enabled on %s.>", cfg.NATS.StatusSubject)
	}

	if cfg.Notify.AMQPURL != "" {
		publisher, amqpConnection, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}

		multi = append(multi, publisher)
		closers = append(closers, func() {
			closeErr := publisher.Close()
			if closeErr != nil {
				log.Warn("Failed to close AMQP channel: %v", closeErr)
			}

			closeErr = amqpConnection.Close()
			if closeErr != nil {
				log.Warn("Failed to close AMQP connection: %v", closeErr)
			}
		})
		log.Info("RabbitMQ status events enabled on queue %s", cfg.Notify.AMQPQueue)
	}

	closeAll := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}

	if len(multi) == 0 {
		return nil, closeAll, nil
	}

	return multi, closeAll, nil
}

func serve(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	blobs, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket, cfg.NATS.PublicURL)
	if err != nil {
		return err
	}

	store, err := openJobStore(cfg.Storage)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := store.Close()
		if closeErr != nil {
			log.Warn("Failed to close job store: %v", closeErr)
		}
	}()

	notifier, closeNotifiers, err := notifiers(cfg, natsConnection, log)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	err = os.MkdirAll(cfg.Jobs.WorkDir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create work dir %s: %w", cfg.Jobs.WorkDir, err)
	}

	serviceMetrics := metrics.New()
	synthesizer := tts.NewHTTPClient(cfg.TTS.BaseURL, cfg.TTS.APIKey, config.Seconds(cfg.TTS.TimeoutSeconds))
	renderer := video.NewRenderer(video.Config{
		FFmpegPath:   cfg.Video.FFmpegPath,
		FFprobePath:  cfg.Video.FFprobePath,
		Width:        cfg.Video.Width,
		Height:       cfg.Video.Height,
		FPS:          cfg.Video.FPS,
		Bitrate:      cfg.Video.Bitrate,
		FontFile:     cfg.Video.FontFile,
		SectionChars: cfg.Video.SectionChars,
		TitleSeconds: cfg.Video.TitleSeconds,
	}, nil, log)

	executor, err := pipeline.NewExecutor(pipeline.Dependencies{
		Store:       store,
		Synthesizer: synthesizer,
		Renderer:    renderer,
		Blobs:       blobs,
		Notifier:    notifier,
		Metrics:     serviceMetrics,
	}, pipeline.Config{
		StageTimeout:  config.Seconds(cfg.Jobs.StageTimeoutSeconds),
		NotifyTimeout: config.Seconds(cfg.Jobs.NotifyTimeoutSeconds),
		MaxTextLength: core.MaxTextLength,
		WorkDir:       cfg.Jobs.WorkDir,
	}, log)
	if err != nil {
		return err
	}

	pool := pipeline.NewPool(executor, cfg.Jobs.Workers, cfg.Jobs.QueueSize, log, serviceMetrics)

	service, err := lecture.NewService(lecture.Dependencies{
		Store:       store,
		Queue:       pool,
		Canceller:   executor,
		Synthesizer: synthesizer,
		Blobs:       blobs,
		Limiter:     lecture.NewRateLimiter(cfg.Server.MaxSubmissionsPerMinute),
		Metrics:     serviceMetrics,
		WorkDir:     cfg.Jobs.WorkDir,
	}, log)
	if err != nil {
		return err
	}

	intake, err := worker.NewNatsWorker(natsConnection, cfg.NATS.GenerateSubject, cfg.NATS.QueueGroup, service, log)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)

	server := &http.Server{
		Addr: cfg.Server.Address,
		Handler: api.NewRouter(api.Options{
			Service:           service,
			Files:             blobs,
			Speech:            synthesizer,
			Metrics:           serviceMetrics,
			JWTSecret:         cfg.Auth.JWTSecret,
			DefaultCleanupAge: cfg.Jobs.Retention(),
			Version:           serviceVersion,
		}, log),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeoutSeconds),
	}

	var background sync.WaitGroup

	background.Add(2)

	go func() {
		defer background.Done()

		runErr := intake.Run(ctx)
		if runErr != nil {
			log.Error("NATS intake stopped: %v", runErr)
		}
	}()

	go func() {
		defer background.Done()

		service.RunCleanup(ctx, cfg.Jobs.CleanupInterval(), cfg.Jobs.Retention())
	}()

	serverErr := make(chan error, 1)

	go func() {
		log.System("Lecture service listening on %s, %d workers, job store %s",
			cfg.Server.Address, cfg.Jobs.Workers, cfg.Storage.Driver)

		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}

		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.System("Shutdown requested")
	case listenErr := <-serverErr:
		if listenErr != nil {
			log.Error("HTTP server failed: %v", listenErr)
		}
	}

	cancel()

	return shutdown(cfg, log, server, pool, &background)
}

func shutdown(cfg *config.Config, log *logger.Logger, server *http.Server, pool *pipeline.Pool, background *sync.WaitGroup) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.Server.ShutdownTimeoutSeconds))
	defer cancel()

	var errs []error

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down HTTP server: %w", err))
	}

	background.Wait()

	err = pool.Shutdown(shutdownCtx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to drain worker pool: %w", err))
	}

	log.System("Lecture service stopped")

	return errors.Join(errs...)
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "lecture-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "lecture-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
