// Package config provides the configuration structure for the lecture-service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
)

// Job store drivers accepted in [storage].
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Environment variables that override file values.
const (
	EnvTTSAPIKey     = "TTS_API_KEY"
	EnvJWTSecret     = "JWT_SECRET"
	EnvNATSURL       = "NATS_URL"
	EnvBackendAPIURL = "BACKEND_API_URL"
	EnvAMQPURL       = "AMQP_URL"
	EnvDatabaseDSN   = "DATABASE_DSN"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ServerConfig holds the HTTP facade settings.
type ServerConfig struct {
	Address                 string `toml:"address"`
	Mode                    string `toml:"mode"`
	ReadTimeoutSeconds      int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds     int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds  int    `toml:"shutdown_timeout_seconds"`
	MaxSubmissionsPerMinute int    `toml:"max_submissions_per_minute"`
}

// JobsConfig holds the worker pool and retention settings.
type JobsConfig struct {
	Workers                int    `toml:"workers"`
	QueueSize              int    `toml:"queue_size"`
	StageTimeoutSeconds    int    `toml:"stage_timeout_seconds"`
	NotifyTimeoutSeconds   int    `toml:"notify_timeout_seconds"`
	CleanupIntervalMinutes int    `toml:"cleanup_interval_minutes"`
	RetentionHours         int    `toml:"retention_hours"`
	WorkDir                string `toml:"work_dir"`
}

// TTSConfig holds the speech synthesis service settings.
type TTSConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// VideoConfig holds the ffmpeg renderer settings.
type VideoConfig struct {
	FFmpegPath   string  `toml:"ffmpeg_path"`
	FFprobePath  string  `toml:"ffprobe_path"`
	Width        int     `toml:"width"`
	Height       int     `toml:"height"`
	FPS          int     `toml:"fps"`
	Bitrate      string  `toml:"bitrate"`
	FontFile     string  `toml:"font_file"`
	SectionChars int     `toml:"section_chars"`
	TitleSeconds float64 `toml:"title_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	GenerateSubject   string `toml:"generate_subject"`
	QueueGroup        string `toml:"queue_group"`
	StatusSubject     string `toml:"status_subject"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
	PublicURL         string `toml:"public_url"`
}

// StorageConfig selects the job store.
type StorageConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// NotifyConfig holds the external status collaborators. Empty URLs disable them.
type NotifyConfig struct {
	BackendURL            string `toml:"backend_url"`
	BackendTimeoutSeconds int    `toml:"backend_timeout_seconds"`
	AMQPURL               string `toml:"amqp_url"`
	AMQPQueue             string `toml:"amqp_queue"`
	PublishNATS           bool   `toml:"publish_nats"`
}

// AuthConfig holds the API authentication settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Jobs    JobsConfig    `toml:"jobs"`
	TTS     TTSConfig     `toml:"tts"`
	Video   VideoConfig   `toml:"video"`
	NATS    NATSConfig    `toml:"nats"`
	Storage StorageConfig `toml:"storage"`
	Notify  NotifyConfig  `toml:"notify"`
	Auth    AuthConfig    `toml:"auth"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the lecture-service. An optional .env file and
// the process environment override file values before defaults and validation run.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = godotenv.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}

		log.Info("No .env file found, using process environment")
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv copies secrets and endpoints from the environment over file values.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		EnvTTSAPIKey:     &c.TTS.APIKey,
		EnvJWTSecret:     &c.Auth.JWTSecret,
		EnvNATSURL:       &c.NATS.URL,
		EnvBackendAPIURL: &c.Notify.BackendURL,
		EnvAMQPURL:       &c.Notify.AMQPURL,
		EnvDatabaseDSN:   &c.Storage.DSN,
	}

	for name, target := range overrides {
		if value, ok := lookup(name); ok && value != "" {
			*target = value
		}
	}
}

// ApplyDefaults fills every zero value with the service default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Address, ":8000")
	setDefault(&c.Server.Mode, "release")
	setDefaultInt(&c.Server.ReadTimeoutSeconds, 30)
	setDefaultInt(&c.Server.WriteTimeoutSeconds, 60)
	setDefaultInt(&c.Server.ShutdownTimeoutSeconds, 30)

	setDefaultInt(&c.Jobs.Workers, 2)
	setDefaultInt(&c.Jobs.QueueSize, 100)
	setDefaultInt(&c.Jobs.StageTimeoutSeconds, 600)
	setDefaultInt(&c.Jobs.NotifyTimeoutSeconds, 10)
	setDefaultInt(&c.Jobs.CleanupIntervalMinutes, 60)
	setDefaultInt(&c.Jobs.RetentionHours, 24)
	setDefault(&c.Jobs.WorkDir, filepath.Join(os.TempDir(), "lecture-service"))

	setDefaultInt(&c.TTS.TimeoutSeconds, 120)

	setDefault(&c.Video.FFmpegPath, "ffmpeg")
	setDefault(&c.Video.FFprobePath, "ffprobe")
	setDefaultInt(&c.Video.Width, 1280)
	setDefaultInt(&c.Video.Height, 720)
	setDefaultInt(&c.Video.FPS, 30)
	setDefault(&c.Video.Bitrate, "2M")
	setDefaultInt(&c.Video.SectionChars, 300)

	if c.Video.TitleSeconds == 0 {
		c.Video.TitleSeconds = 3
	}

	setDefault(&c.NATS.GenerateSubject, "lectures.generate")
	setDefault(&c.NATS.QueueGroup, "lecture-service")
	setDefault(&c.NATS.StatusSubject, "lectures.status")
	setDefault(&c.NATS.ObjectStoreBucket, "LECTURE_FILES")

	setDefault(&c.Storage.Driver, StorageMemory)

	setDefaultInt(&c.Notify.BackendTimeoutSeconds, 10)
	setDefault(&c.Notify.AMQPQueue, "lecture_status")

	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.TTS.BaseURL == "":
		return fmt.Errorf("%w: tts.base_url is required", ErrInvalidConfig)
	case c.NATS.URL == "":
		return fmt.Errorf("%w: nats.url is required", ErrInvalidConfig)
	case c.Jobs.Workers < 1:
		return fmt.Errorf("%w: jobs.workers must be at least 1", ErrInvalidConfig)
	case c.Jobs.QueueSize < 0:
		return fmt.Errorf("%w: jobs.queue_size must not be negative", ErrInvalidConfig)
	case c.Jobs.RetentionHours < 1:
		return fmt.Errorf("%w: jobs.retention_hours must be at least 1", ErrInvalidConfig)
	case c.Video.Width < 1 || c.Video.Height < 1 || c.Video.FPS < 1:
		return fmt.Errorf("%w: video dimensions and fps must be positive", ErrInvalidConfig)
	case c.Server.MaxSubmissionsPerMinute < 0:
		return fmt.Errorf("%w: server.max_submissions_per_minute must not be negative", ErrInvalidConfig)
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite, StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for driver %s", ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	return nil
}

// Seconds converts a config field expressed in seconds.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// CleanupInterval is how often the retention sweep runs.
func (j JobsConfig) CleanupInterval() time.Duration {
	return time.Duration(j.CleanupIntervalMinutes) * time.Minute
}

// Retention is the age after which jobs and temp files are swept.
func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionHours) * time.Hour
}

func setDefault(target *string, value string) {
	if *target == "" {
		*target = value
	}
}

func setDefaultInt(target *int, value int) {
	if *target == 0 {
		*target = value
	}
}
