package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp"

	"github.com/lehigh-university-libraries/defect-detect/internal/config"
	"github.com/lehigh-university-libraries/defect-detect/internal/models"
	"github.com/lehigh-university-libraries/defect-detect/pkg/metrics"
)

// DefectClasses is the model's label vocabulary, indexed by class id.
var DefectClasses = []string{"Crack", "Deform", "Paint Peel", "Rivet Damage"}

var ErrNotLoaded = errors.New("model not loaded, call Load first")

// Frame is one decoded image handed to a backend. Path is kept for backends
// that ship the original bytes elsewhere.
type Frame struct {
	Path  string
	Image image.Image
}

type Thresholds struct {
	Confidence float64
	IoU        float64
}

// Output holds parallel arrays as emitted by the model: Boxes[i], Scores[i]
// and ClassIDs[i] describe the same candidate. Boxes are x1,y1,x2,y2 in
// source image pixels.
type Output struct {
	Boxes    [][4]float64
	Scores   []float64
	ClassIDs []int
}

type Backend interface {
	Name() string
	Load(ctx context.Context) error
	Infer(ctx context.Context, frame Frame, th Thresholds) (Output, error)
	Close() error
}

// Service owns one backend and moves from unloaded to loaded exactly once.
// Concurrent Predict calls are safe as long as the backend is; the ONNX
// backend serialises per pooled session.
type Service struct {
	cfg     *config.Settings
	backend Backend
	classes []string
	loaded  atomic.Bool
}

func New(cfg *config.Settings) (*Service, error) {
	var backend Backend
	switch cfg.Backend {
	case config.BackendONNX:
		slog.Info("Initializing ONNX runtime detector", "model", cfg.ModelPath, "workers", cfg.InferenceWorkers)
		backend = NewONNX(cfg.ModelPath, cfg.ORTLibraryPath, cfg.InputSize, cfg.InferenceWorkers, len(DefectClasses))
	case config.BackendRemote:
		slog.Info("Initializing remote inference detector", "url", cfg.InferenceURL)
		backend = NewRemote(cfg.InferenceURL, nil)
	case config.BackendGCV:
		slog.Info("Initializing Google Cloud Vision detector")
		backend = NewGCV(DefectClasses)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
	return NewWithBackend(cfg, backend), nil
}

func NewWithBackend(cfg *config.Settings, backend Backend) *Service {
	return &Service{
		cfg:     cfg,
		backend: backend,
		classes: DefectClasses,
	}
}

func (s *Service) Load(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	if err := s.backend.Load(ctx); err != nil {
		slog.Error("Error loading model", "backend", s.backend.Name(), "err", err)
		return fmt.Errorf("load %s backend: %w", s.backend.Name(), err)
	}
	s.loaded.Store(true)
	slog.Info("Model loaded successfully", "backend", s.backend.Name(), "model", s.cfg.ModelPath)
	return nil
}

func (s *Service) Loaded() bool {
	return s.loaded.Load()
}

func (s *Service) ClassNames() []string {
	return append([]string(nil), s.classes...)
}

// Predict runs the backend on the image at imagePath. The returned duration
// covers only the backend call.
func (s *Service) Predict(ctx context.Context, imagePath string) ([]models.Detection, float64, error) {
	if !s.loaded.Load() {
		return nil, 0, ErrNotLoaded
	}

	img, err := decodeImage(imagePath)
	if err != nil {
		return nil, 0, err
	}

	th := Thresholds{
		Confidence: s.cfg.ConfidenceThreshold,
		IoU:        s.cfg.IoUThreshold,
	}

	start := time.Now()
	out, err := s.backend.Infer(ctx, Frame{Path: imagePath, Image: img}, th)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return nil, 0, fmt.Errorf("inference failed: %w", err)
	}
	metrics.InferenceDuration.WithLabelValues(s.backend.Name()).Observe(elapsed)

	detections := s.collect(out)
	bounds := img.Bounds()
	slog.Debug("Inference complete", "image", imagePath, "width", bounds.Dx(), "height", bounds.Dy(),
		"detections", len(detections), "seconds", elapsed)
	return detections, elapsed, nil
}

func (s *Service) collect(out Output) []models.Detection {
	n := min(len(out.Boxes), len(out.Scores), len(out.ClassIDs))
	if n != len(out.Boxes) || n != len(out.Scores) || n != len(out.ClassIDs) {
		slog.Warn("Backend returned arrays of different lengths",
			"boxes", len(out.Boxes), "scores", len(out.Scores), "classes", len(out.ClassIDs))
	}

	detections := make([]models.Detection, 0, n)
	for i := range n {
		id, score := out.ClassIDs[i], out.Scores[i]
		if id < 0 || id >= len(s.classes) {
			metrics.SkippedDetections.WithLabelValues("unknown_class").Inc()
			slog.Warn("Skipping detection with unknown class index", "class_id", id, "score", score)
			continue
		}
		if score < 0 || score > 1 {
			metrics.SkippedDetections.WithLabelValues("invalid_confidence").Inc()
			slog.Warn("Skipping detection with confidence outside [0, 1]", "class_id", id, "score", score)
			continue
		}

		box := out.Boxes[i]
		detections = append(detections, models.Detection{
			ClassName:  s.classes[id],
			Confidence: score,
			BoundingBox: models.BoundingBox{
				X1: box[0],
				Y1: box[1],
				X2: box[2],
				Y2: box[3],
			},
		})
		metrics.Detections.WithLabelValues(s.classes[id]).Inc()
	}
	return detections
}

func (s *Service) Draw(imagePath string, detections []models.Detection, outputPath string) error {
	return DrawDetections(imagePath, detections, outputPath)
}

func (s *Service) Close() error {
	return s.backend.Close()
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
