package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/bead-check/internal/detector"
)

// Detector backends.
const (
	BackendONNX = "onnx"
	BackendGRPC = "grpc"
)

type Config struct {
	Host            string
	Port            string
	UploadDir       string
	MaxUploadSize   int64
	MaxImagePixels  int64
	ShutdownTimeout time.Duration

	DetectorBackend string
	ModelPath       string
	OnnxLib         string
	InputSize       int
	ConfThreshold   float32
	IoUThreshold    float32
	Labels          detector.Labels
	DetectorAddr    string

	JWTSecret   string
	JWTAudience string
	DatabaseDSN string
	RedisAddr   string

	LogLevel string
	LogFile  string
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strings.TrimSpace(c.Port))
}

// LoadFromEnv reads the process environment, after merging a local .env file
// when one exists. Variables already set in the environment win.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Host:            getEnvOrDefault("HOST", "0.0.0.0"),
		Port:            getEnvOrDefault("PORT", "5000"),
		UploadDir:       getEnvOrDefault("UPLOAD_DIR", "./uploads"),
		MaxUploadSize:   parseIntOrDefault("MAX_UPLOAD_SIZE", 10*1024*1024), // 10MB
		MaxImagePixels:  parseIntOrDefault("MAX_IMAGE_PIXELS", 1<<26),
		ShutdownTimeout: parseDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),

		DetectorBackend: strings.ToLower(getEnvOrDefault("DETECTOR_BACKEND", BackendONNX)),
		ModelPath:       getEnvOrDefault("MODEL_PATH", "./models/best.onnx"),
		OnnxLib:         getEnvOrDefault("ONNXRUNTIME_LIB", "onnxruntime.so"),
		InputSize:       int(parseIntOrDefault("MODEL_INPUT_SIZE", 640)),
		ConfThreshold:   parseFloatOrDefault("MODEL_CONF_THRESHOLD", 0.25),
		IoUThreshold:    parseFloatOrDefault("MODEL_IOU_THRESHOLD", 0.45),
		Labels:          detector.ParseLabels(getEnvOrDefault("MODEL_LABELS", strings.Join(detector.DefaultLabels, ","))),
		DetectorAddr:    getEnvOrDefault("DETECTOR_ADDR", "localhost:50051"),

		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		DatabaseDSN: strings.TrimSpace(os.Getenv("DATABASE_DSN")),
		RedisAddr:   strings.TrimSpace(os.Getenv("REDIS_ADDR")),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be > 0 (got %d)", c.MaxImagePixels)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0 (got %s)", c.ShutdownTimeout)
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		return errors.New("UPLOAD_DIR must not be empty")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Labels) == 0 {
		return errors.New("MODEL_LABELS must list at least one class")
	}
	if c.ConfThreshold <= 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("MODEL_CONF_THRESHOLD must be in (0,1] (got %g)", c.ConfThreshold)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("MODEL_IOU_THRESHOLD must be in (0,1] (got %g)", c.IoUThreshold)
	}

	switch c.DetectorBackend {
	case BackendONNX:
		if c.ModelPath == "" {
			return errors.New("MODEL_PATH is required for the onnx backend")
		}
		if c.InputSize < 32 || c.InputSize%32 != 0 {
			return fmt.Errorf("MODEL_INPUT_SIZE must be a positive multiple of 32 (got %d)", c.InputSize)
		}
	case BackendGRPC:
		if c.DetectorAddr == "" {
			return errors.New("DETECTOR_ADDR is required for the grpc backend")
		}
	default:
		return fmt.Errorf("unknown DETECTOR_BACKEND %q", c.DetectorBackend)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 32); err == nil {
			return float32(f)
		}
	}
	return defaultValue
}
