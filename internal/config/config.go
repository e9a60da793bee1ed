package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
	BackendGCV    = "gcv"
)

// Settings is read once at startup and never mutated afterwards.
type Settings struct {
	AppName string
	Version string
	Debug   bool

	Backend             string
	ModelPath           string
	ORTLibraryPath      string
	InputSize           int
	InferenceWorkers    int
	InferenceURL        string
	ConfidenceThreshold float64
	IoUThreshold        float64

	MaxUploadSize     int64
	AllowedExtensions []string
	UploadDir         string
	StaticURLPrefix   string

	CleanupMaxAge   time.Duration
	CleanupInterval time.Duration

	CORSAllowedOrigins string

	Host string
	Port int
}

func Load() (*Settings, error) {
	var err error
	s := &Settings{
		AppName:            getEnv("APP_NAME", "Aerospace Defect Detection API"),
		Version:            getEnv("VERSION", "1.0.0"),
		Backend:            strings.ToLower(getEnv("DETECTOR_BACKEND", BackendONNX)),
		ModelPath:          getEnv("MODEL_PATH", "models/best.onnx"),
		ORTLibraryPath:     getEnv("ONNXRUNTIME_LIB", defaultORTLibrary()),
		InferenceURL:       getEnv("INFERENCE_URL", "http://localhost:5000/predict"),
		AllowedExtensions:  SplitExtensions(getEnv("ALLOWED_EXTENSIONS", "jpg,jpeg,png,bmp")),
		UploadDir:          getEnv("UPLOAD_DIR", "static/uploads"),
		StaticURLPrefix:    "/" + strings.Trim(getEnv("STATIC_URL_PREFIX", "/static/uploads"), "/"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		Host:               getEnv("HOST", "0.0.0.0"),
	}

	if s.Debug, err = getBoolEnv("DEBUG", false); err != nil {
		return nil, fmt.Errorf("invalid DEBUG: %w", err)
	}
	if s.ConfidenceThreshold, err = getFloatEnv("CONFIDENCE_THRESHOLD", 0.25); err != nil {
		return nil, fmt.Errorf("invalid CONFIDENCE_THRESHOLD: %w", err)
	}
	if s.IoUThreshold, err = getFloatEnv("IOU_THRESHOLD", 0.45); err != nil {
		return nil, fmt.Errorf("invalid IOU_THRESHOLD: %w", err)
	}
	if s.InputSize, err = getIntEnv("MODEL_INPUT_SIZE", 640); err != nil {
		return nil, fmt.Errorf("invalid MODEL_INPUT_SIZE: %w", err)
	}
	if s.InferenceWorkers, err = getIntEnv("INFERENCE_WORKERS", 1); err != nil {
		return nil, fmt.Errorf("invalid INFERENCE_WORKERS: %w", err)
	}
	if s.Port, err = getIntEnv("PORT", 8000); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	maxUpload, err := getIntEnv("MAX_UPLOAD_SIZE", 10485760)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
	}
	s.MaxUploadSize = int64(maxUpload)
	if s.CleanupMaxAge, err = getDurationEnv("CLEANUP_MAX_AGE", time.Hour); err != nil {
		return nil, fmt.Errorf("invalid CLEANUP_MAX_AGE: %w", err)
	}
	if s.CleanupInterval, err = getDurationEnv("CLEANUP_INTERVAL", 0); err != nil {
		return nil, fmt.Errorf("invalid CLEANUP_INTERVAL: %w", err)
	}

	switch s.Backend {
	case BackendONNX, BackendRemote, BackendGCV:
	default:
		return nil, fmt.Errorf("unknown DETECTOR_BACKEND %q", s.Backend)
	}
	if s.InferenceWorkers < 1 {
		s.InferenceWorkers = 1
	}

	if err := os.MkdirAll(s.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return s, nil
}

func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SplitExtensions turns "jpg, PNG" into ["jpg", "png"].
func SplitExtensions(raw string) []string {
	var exts []string
	for _, ext := range strings.Split(raw, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	return exts
}

func defaultORTLibrary() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/onnxruntime_arm64.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseBool(value)
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	if value == "0" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
