package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Version is the fast-alpr release version, reported at startup and by the
// control API.
const Version = "0.2.0"

// Config holds all fast-alpr configuration.
type Config struct {
	Source Source
	ALPR   ALPR
	Engine Engine
	Output Output
	Server Server

	LogLevel        string
	ShutdownTimeout time.Duration
}

// Source holds frame source settings.
type Source struct {
	Provider string // "webcam", "rtsp", "filesim"
	Extra    map[string]string
}

// ALPR holds recognition model settings.
type ALPR struct {
	ModelsDir     string
	DetectorModel string
	OCRModel      string
	// ModelBaseURL, when set, enables fetching missing model files from
	// <base>/<name>.onnx at startup.
	ModelBaseURL      string
	DetectorThreshold float64
}

// Engine holds session engine settings.
type Engine struct {
	MinConfidence      float64       // detection confidence floor for acceptance
	DuplicateWindow    time.Duration // same-plate suppression window
	FrameInterval      int           // process every Nth frame
	MaxSourceFailures  int           // consecutive read failures before terminating
	MaxStorageFailures int           // consecutive record failures before terminating
	AutoStart          bool          // open a session at boot
}

// Output holds observation destination settings.
type Output struct {
	Dir          string // session files and screenshots
	Stdout       bool
	Pretty       bool
	WebhookURL   string
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	ArchivePath  string // SQLite file; empty disables the archive
}

// Server holds control API settings.
type Server struct {
	Addr string // empty disables the HTTP server
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	interval := getenvInt("FASTALPR_FRAME_INTERVAL", 5)
	if interval < 1 {
		interval = 5
	}
	return Config{
		Source: Source{
			Provider: getenv("FASTALPR_SOURCE", "webcam"),
			Extra:    loadSourceExtra(),
		},
		ALPR: ALPR{
			ModelsDir:         getenv("FASTALPR_MODELS_DIR", "models"),
			DetectorModel:     getenv("FASTALPR_DETECTOR_MODEL", "yolo-v9-t-384-license-plate-end2end"),
			OCRModel:          getenv("FASTALPR_OCR_MODEL", "cct-xs-v1-global-model"),
			ModelBaseURL:      os.Getenv("FASTALPR_MODEL_BASE_URL"),
			DetectorThreshold: getenvFloat("FASTALPR_DETECTOR_THRESHOLD", 0.4),
		},
		Engine: Engine{
			MinConfidence:      getenvFloat("FASTALPR_MIN_CONFIDENCE", 0.7),
			DuplicateWindow:    getenvDuration("FASTALPR_DUPLICATE_WINDOW", 5*time.Second),
			FrameInterval:      interval,
			MaxSourceFailures:  getenvInt("FASTALPR_MAX_SOURCE_FAILURES", 30),
			MaxStorageFailures: getenvInt("FASTALPR_MAX_STORAGE_FAILURES", 5),
			AutoStart:          getenvBool("FASTALPR_AUTO_START", true),
		},
		Output: Output{
			Dir:          getenv("FASTALPR_OUTPUT_DIR", "."),
			Stdout:       getenvBool("FASTALPR_STDOUT", false),
			Pretty:       getenvBool("FASTALPR_STDOUT_PRETTY", false),
			WebhookURL:   os.Getenv("FASTALPR_WEBHOOK_URL"),
			MQTTBroker:   os.Getenv("FASTALPR_MQTT_BROKER"),
			MQTTTopic:    getenv("FASTALPR_MQTT_TOPIC", "fastalpr/detections"),
			MQTTClientID: getenv("FASTALPR_MQTT_CLIENT_ID", "fastalpr"),
			ArchivePath:  os.Getenv("FASTALPR_ARCHIVE_PATH"),
		},
		Server: Server{
			Addr: getenv("FASTALPR_LISTEN", ":8080"),
		},
		LogLevel:        getenv("FASTALPR_LOG_LEVEL", "info"),
		ShutdownTimeout: getenvDuration("FASTALPR_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate checks value ranges and model file availability. All problems are
// reported together.
func (c Config) Validate() error {
	var errs []error

	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min confidence must be in [0,1], got %v", c.Engine.MinConfidence))
	}
	if c.ALPR.DetectorThreshold < 0 || c.ALPR.DetectorThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector threshold must be in [0,1], got %v", c.ALPR.DetectorThreshold))
	}
	if c.Engine.DuplicateWindow < 0 {
		errs = append(errs, fmt.Errorf("duplicate window must not be negative, got %v", c.Engine.DuplicateWindow))
	}
	if c.Engine.FrameInterval < 1 {
		errs = append(errs, fmt.Errorf("frame interval must be >= 1, got %d", c.Engine.FrameInterval))
	}
	if c.Source.Provider == "" {
		errs = append(errs, errors.New("FASTALPR_SOURCE must not be empty"))
	}
	if !c.Engine.AutoStart && c.Server.Addr == "" {
		errs = append(errs, errors.New("auto start disabled and no listen address: no way to open a session"))
	}

	// Without a model base URL there is no way to fetch missing files, so
	// they must already be on disk.
	if c.ALPR.ModelBaseURL == "" {
		for _, name := range []string{c.ALPR.DetectorModel, c.ALPR.OCRModel} {
			path := filepath.Join(c.ALPR.ModelsDir, name+".onnx")
			if _, err := os.Stat(path); os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("model file %s not found (set FASTALPR_MODEL_BASE_URL to fetch)", path))
			}
		}
	}

	return errors.Join(errs...)
}

// loadSourceExtra reads provider-specific env vars into an Extra map.
func loadSourceExtra() map[string]string {
	vars := []struct {
		envVar   string
		extraKey string
	}{
		{"FASTALPR_CAMERA_INDEX", "camera_index"},
		{"FASTALPR_RTSP_URL", "rtsp_url"},
		{"FASTALPR_FRAMES_DIR", "frames_dir"},
		{"FASTALPR_SOURCE_FPS", "fps"},
	}

	var m map[string]string
	for _, v := range vars {
		if val := os.Getenv(v.envVar); val != "" {
			if m == nil {
				m = make(map[string]string)
			}
			m[v.extraKey] = val
		}
	}
	return m
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
