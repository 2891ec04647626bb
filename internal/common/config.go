package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Detector    DetectorConfig  `toml:"detector"`
	Annotate    AnnotateConfig  `toml:"annotate"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent video workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "10m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PipelineConfig controls video discovery and output placement
type PipelineConfig struct {
	InputDir            string   `toml:"input_dir" validate:"required"`  // Directory scanned for source videos
	OutputDir           string   `toml:"output_dir" validate:"required"` // Directory annotated videos are written to
	Extensions          []string `toml:"extensions"`                     // Lower-case file extensions treated as video
	ScanSchedule        string   `toml:"scan_schedule"`                  // Cron expression for periodic directory sweeps
	Watch               bool     `toml:"watch"`                          // Watch input_dir with fsnotify for new files
	WatchSettleDelay    string   `toml:"watch_settle_delay"`             // Wait after a file event before enqueueing (copy still in flight)
	DeleteSourceOnDone  bool     `toml:"delete_source_on_done"`          // Remove the source video after successful processing
	StaleJobThreshold   string   `toml:"stale_job_threshold"`            // Running jobs without a heartbeat for this long are failed
	HeartbeatInterval   string   `toml:"heartbeat_interval"`             // How often workers update the job heartbeat
	ProgressLogInterval int      `toml:"progress_log_interval"`          // Log per-frame progress every N frames
}

// DetectorConfig contains inference endpoint configuration
type DetectorConfig struct {
	Endpoint       string  `toml:"endpoint" validate:"required,url"` // Model server base URL, e.g. http://localhost:9090
	RequestTimeout string  `toml:"request_timeout"`                  // Per-frame inference timeout
	MinConfidence  float64 `toml:"min_confidence" validate:"gte=0,lte=1"`
	ClassesFile    string  `toml:"classes_file"` // TOML file mapping class IDs to labels
	RateLimit      string  `toml:"rate_limit"`   // Minimum interval between inference requests ("" = unlimited)
	MaxRetries     int     `toml:"max_retries"`  // Retries on transient (5xx) inference failures
}

// AnnotateConfig controls how detections are drawn onto frames
type AnnotateConfig struct {
	BoxColor   []int `toml:"box_color" validate:"len=3,dive,gte=0,lte=255"`   // RGB
	LabelColor []int `toml:"label_color" validate:"len=3,dive,gte=0,lte=255"` // RGB
	Thickness  int   `toml:"thickness" validate:"gt=0"`                       // Box line thickness in pixels
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	MinLevel string `toml:"min_level"` // Minimum log level to broadcast ("debug", "info", "warn", "error")
	// Whitelist of event types to broadcast. Empty list allows all events.
	// Example: ["job_created", "job_completed", "video_progress"]
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	// Example: {"video_progress": "1s"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in visum.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       2, // Video decode+encode is CPU heavy - keep parallelism low by default
			VisibilityTimeout: "10m",
			MaxReceive:        3,
			QueueName:         "visum_jobs",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Pipeline: PipelineConfig{
			InputDir:            "./input",
			OutputDir:           "./output",
			Extensions:          []string{".mp4", ".avi", ".mov", ".mkv"},
			ScanSchedule:        "*/1 * * * *", // Sweep input_dir every minute
			Watch:               true,
			WatchSettleDelay:    "2s",
			DeleteSourceOnDone:  false,
			StaleJobThreshold:   "15m",
			HeartbeatInterval:   "30s",
			ProgressLogInterval: 100,
		},
		Detector: DetectorConfig{
			Endpoint:       "http://localhost:9090",
			RequestTimeout: "30s",
			MinConfidence:  0.25,
			ClassesFile:    "./classes.toml",
			RateLimit:      "",
			MaxRetries:     2,
		},
		Annotate: AnnotateConfig{
			BoxColor:   []int{0, 255, 0},   // Green boxes
			LabelColor: []int{0, 255, 255}, // Yellow labels
			Thickness:  2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		WebSocket: WebSocketConfig{
			MinLevel:      "info",
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"video_progress": "1s", // Max 1 progress update per second per job
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for structural errors
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Duration strings are validated eagerly so a bad value fails at startup,
	// not on first use deep inside the queue or pipeline.
	durations := map[string]string{
		"queue.poll_interval":          c.Queue.PollInterval,
		"queue.visibility_timeout":     c.Queue.VisibilityTimeout,
		"pipeline.watch_settle_delay":  c.Pipeline.WatchSettleDelay,
		"pipeline.stale_job_threshold": c.Pipeline.StaleJobThreshold,
		"pipeline.heartbeat_interval":  c.Pipeline.HeartbeatInterval,
		"detector.request_timeout":     c.Detector.RequestTimeout,
	}
	for name, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Detector.RateLimit != "" {
		if _, err := time.ParseDuration(c.Detector.RateLimit); err != nil {
			return fmt.Errorf("invalid duration for detector.rate_limit: %w", err)
		}
	}

	return nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VISUM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("VISUM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("VISUM_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("VISUM_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("VISUM_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("VISUM_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("VISUM_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("VISUM_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	// Storage configuration
	if badgerPath := os.Getenv("VISUM_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Pipeline configuration
	if inputDir := os.Getenv("VISUM_INPUT_DIR"); inputDir != "" {
		config.Pipeline.InputDir = inputDir
	}
	if outputDir := os.Getenv("VISUM_OUTPUT_DIR"); outputDir != "" {
		config.Pipeline.OutputDir = outputDir
	}
	if extensions := os.Getenv("VISUM_EXTENSIONS"); extensions != "" {
		exts := []string{}
		for _, e := range strings.Split(extensions, ",") {
			trimmed := strings.TrimSpace(e)
			if trimmed != "" {
				exts = append(exts, strings.ToLower(trimmed))
			}
		}
		if len(exts) > 0 {
			config.Pipeline.Extensions = exts
		}
	}
	if schedule := os.Getenv("VISUM_SCAN_SCHEDULE"); schedule != "" {
		config.Pipeline.ScanSchedule = schedule
	}
	if watch := os.Getenv("VISUM_WATCH"); watch != "" {
		if w, err := strconv.ParseBool(watch); err == nil {
			config.Pipeline.Watch = w
		}
	}
	if deleteSource := os.Getenv("VISUM_DELETE_SOURCE_ON_DONE"); deleteSource != "" {
		if d, err := strconv.ParseBool(deleteSource); err == nil {
			config.Pipeline.DeleteSourceOnDone = d
		}
	}

	// Detector configuration
	if endpoint := os.Getenv("VISUM_DETECTOR_ENDPOINT"); endpoint != "" {
		config.Detector.Endpoint = endpoint
	}
	if timeout := os.Getenv("VISUM_DETECTOR_REQUEST_TIMEOUT"); timeout != "" {
		config.Detector.RequestTimeout = timeout
	}
	if minConf := os.Getenv("VISUM_DETECTOR_MIN_CONFIDENCE"); minConf != "" {
		if f, err := strconv.ParseFloat(minConf, 64); err == nil {
			config.Detector.MinConfidence = f
		}
	}
	if classesFile := os.Getenv("VISUM_DETECTOR_CLASSES_FILE"); classesFile != "" {
		config.Detector.ClassesFile = classesFile
	}
	if rateLimit := os.Getenv("VISUM_DETECTOR_RATE_LIMIT"); rateLimit != "" {
		if _, err := time.ParseDuration(rateLimit); err == nil {
			config.Detector.RateLimit = rateLimit
		}
	}

	// Logging configuration
	if level := os.Getenv("VISUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("VISUM_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("VISUM_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// WebSocket configuration
	if minLevel := os.Getenv("VISUM_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if allowedEvents := os.Getenv("VISUM_WEBSOCKET_ALLOWED_EVENTS"); allowedEvents != "" {
		events := []string{}
		for _, e := range strings.Split(allowedEvents, ",") {
			trimmed := strings.TrimSpace(e)
			if trimmed != "" {
				events = append(events, trimmed)
			}
		}
		if len(events) > 0 {
			config.WebSocket.AllowedEvents = events
		}
	}
	if progressThrottle := os.Getenv("VISUM_WEBSOCKET_THROTTLE_VIDEO_PROGRESS"); progressThrottle != "" {
		if _, err := time.ParseDuration(progressThrottle); err == nil {
			if config.WebSocket.ThrottleIntervals == nil {
				config.WebSocket.ThrottleIntervals = make(map[string]string)
			}
			config.WebSocket.ThrottleIntervals["video_progress"] = progressThrottle
		}
	}
}

// ParsePollInterval returns the parsed queue poll interval
func (c *QueueConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// ParseVisibilityTimeout returns the parsed queue visibility timeout
func (c *QueueConfig) ParseVisibilityTimeout() time.Duration {
	d, err := time.ParseDuration(c.VisibilityTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// ParseWatchSettleDelay returns the parsed watcher settle delay
func (c *PipelineConfig) ParseWatchSettleDelay() time.Duration {
	d, err := time.ParseDuration(c.WatchSettleDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ParseStaleJobThreshold returns the parsed stale job threshold
func (c *PipelineConfig) ParseStaleJobThreshold() time.Duration {
	d, err := time.ParseDuration(c.StaleJobThreshold)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// ParseHeartbeatInterval returns the parsed worker heartbeat interval
func (c *PipelineConfig) ParseHeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
