package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/defect-detect/internal/config"
)

type fakeBackend struct {
	out     Output
	err     error
	loadErr error
	seen    Thresholds
	calls   int
	closed  bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Load(context.Context) error { return f.loadErr }

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func (f *fakeBackend) Infer(_ context.Context, _ Frame, th Thresholds) (Output, error) {
	f.calls++
	f.seen = th
	return f.out, f.err
}

func testSettings() *config.Settings {
	return &config.Settings{
		ConfidenceThreshold: 0.25,
		IoUThreshold:        0.45,
		ModelPath:           "models/best.onnx",
	}
}

func writeJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 130, A: 255})
		}
	}
	path := filepath.Join(dir, "panel.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadedService(t *testing.T, backend Backend) *Service {
	t.Helper()
	svc := NewWithBackend(testSettings(), backend)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return svc
}

func TestPredictBeforeLoad(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewWithBackend(testSettings(), backend)

	if svc.Loaded() {
		t.Fatal("new service reports loaded")
	}
	_, _, err := svc.Predict(context.Background(), writeJPEG(t, t.TempDir(), 8, 8))
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Predict() error = %v, want ErrNotLoaded", err)
	}
	if backend.calls != 0 {
		t.Errorf("backend called %d times while unloaded", backend.calls)
	}
}

func TestLoadFailurePropagates(t *testing.T) {
	svc := NewWithBackend(testSettings(), &fakeBackend{loadErr: errors.New("corrupt weights")})
	err := svc.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "corrupt weights") {
		t.Fatalf("Load() error = %v", err)
	}
	if svc.Loaded() {
		t.Error("service loaded after failure")
	}
}

func TestPredictMapsParallelArrays(t *testing.T) {
	backend := &fakeBackend{out: Output{
		Boxes:    [][4]float64{{1, 2, 3, 4}, {10, 20, 30, 40}, {5, 5, 6, 6}},
		Scores:   []float64{0.9, 0.5, 0.3},
		ClassIDs: []int{0, 3, 1},
	}}
	svc := loadedService(t, backend)

	dets, elapsed, err := svc.Predict(context.Background(), writeJPEG(t, t.TempDir(), 16, 16))
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if elapsed < 0 {
		t.Errorf("elapsed = %v", elapsed)
	}

	wantNames := []string{"Crack", "Rivet Damage", "Deform"}
	if len(dets) != len(wantNames) {
		t.Fatalf("got %d detections, want %d", len(dets), len(wantNames))
	}
	for i, d := range dets {
		if d.ClassName != wantNames[i] {
			t.Errorf("dets[%d].ClassName = %q, want %q", i, d.ClassName, wantNames[i])
		}
		if d.Confidence != backend.out.Scores[i] {
			t.Errorf("dets[%d].Confidence = %v", i, d.Confidence)
		}
	}
	if b := dets[1].BoundingBox; b.X1 != 10 || b.Y1 != 20 || b.X2 != 30 || b.Y2 != 40 {
		t.Errorf("dets[1].BoundingBox = %+v", b)
	}
}

func TestPredictReadsThresholdsAtCallTime(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testSettings()
	svc := NewWithBackend(cfg, backend)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg.ConfidenceThreshold = 0.6
	if _, _, err := svc.Predict(context.Background(), writeJPEG(t, t.TempDir(), 8, 8)); err != nil {
		t.Fatal(err)
	}
	if backend.seen.Confidence != 0.6 || backend.seen.IoU != 0.45 {
		t.Errorf("backend saw thresholds %+v", backend.seen)
	}
}

func TestPredictSkipsInvalidResults(t *testing.T) {
	backend := &fakeBackend{out: Output{
		Boxes:    [][4]float64{{0, 0, 1, 1}, {0, 0, 1, 1}, {0, 0, 1, 1}, {0, 0, 1, 1}},
		Scores:   []float64{0.8, 0.7, 1.2, 0.6},
		ClassIDs: []int{4, -1, 2, 2},
	}}
	svc := loadedService(t, backend)

	dets, _, err := svc.Predict(context.Background(), writeJPEG(t, t.TempDir(), 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 1 || dets[0].ClassName != "Paint Peel" || dets[0].Confidence != 0.6 {
		t.Errorf("got %+v, want one Paint Peel at 0.6", dets)
	}
}

func TestPredictTruncatesMismatchedArrays(t *testing.T) {
	backend := &fakeBackend{out: Output{
		Boxes:    [][4]float64{{0, 0, 1, 1}, {0, 0, 2, 2}},
		Scores:   []float64{0.8},
		ClassIDs: []int{0, 1},
	}}
	svc := loadedService(t, backend)

	dets, _, err := svc.Predict(context.Background(), writeJPEG(t, t.TempDir(), 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 1 {
		t.Errorf("got %d detections, want 1", len(dets))
	}
}

func TestPredictErrors(t *testing.T) {
	svc := loadedService(t, &fakeBackend{err: errors.New("session crashed")})

	corrupt := filepath.Join(t.TempDir(), "bad.jpg")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Predict(context.Background(), corrupt); err == nil {
		t.Error("Predict() on corrupt image succeeded")
	}

	_, _, err := svc.Predict(context.Background(), writeJPEG(t, t.TempDir(), 8, 8))
	if err == nil || !strings.Contains(err.Error(), "session crashed") {
		t.Errorf("Predict() error = %v", err)
	}
}

func TestClassNamesIsACopy(t *testing.T) {
	svc := NewWithBackend(testSettings(), &fakeBackend{})
	names := svc.ClassNames()
	names[0] = "Scratch"

	if got := svc.ClassNames(); got[0] != "Crack" || len(got) != 4 {
		t.Errorf("ClassNames() = %v", got)
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	backend := &fakeBackend{}
	svc := loadedService(t, backend)
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if !backend.closed {
		t.Error("backend not closed")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{config.BackendONNX, "onnx"},
		{config.BackendRemote, "remote"},
		{config.BackendGCV, "gcv"},
	}
	for _, tt := range tests {
		cfg := testSettings()
		cfg.Backend = tt.backend
		svc, err := New(cfg)
		if err != nil {
			t.Fatalf("New(%q) error: %v", tt.backend, err)
		}
		if svc.backend.Name() != tt.want {
			t.Errorf("New(%q) backend = %q", tt.backend, svc.backend.Name())
		}
	}

	cfg := testSettings()
	cfg.Backend = "torch"
	if _, err := New(cfg); err == nil {
		t.Error("New() with unknown backend succeeded")
	}
}

func TestONNXLoadMissingModel(t *testing.T) {
	b := NewONNX(filepath.Join(t.TempDir(), "best.onnx"), "", 640, 1, 4)
	err := b.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "model file not found") {
		t.Errorf("Load() error = %v", err)
	}
}
