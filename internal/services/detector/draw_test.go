package detector

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lehigh-university-libraries/defect-detect/internal/models"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func readImage(t *testing.T, path string) image.Image {
	t.Helper()
	img, err := decodeImage(path)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func TestDrawDetectionsNoDetections(t *testing.T) {
	dir := t.TempDir()
	src := writeJPEG(t, dir, 50, 50)
	out := filepath.Join(dir, "annotated_panel.jpg")

	if err := DrawDetections(src, nil, out); err != nil {
		t.Fatalf("DrawDetections() error: %v", err)
	}
	if b := readImage(t, out).Bounds(); b.Dx() != 50 || b.Dy() != 50 {
		t.Errorf("annotated size = %v, want 50x50", b)
	}
}

func TestDrawDetectionsColoursBoxAndLabel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "panel.png")
	writePNG(t, src, 80, 80)
	out := filepath.Join(dir, "annotated_panel.png")

	dets := []models.Detection{{
		ClassName:   "Crack",
		Confidence:  0.87,
		BoundingBox: models.BoundingBox{X1: 10, Y1: 40, X2: 60, Y2: 70},
	}}
	if err := DrawDetections(src, dets, out); err != nil {
		t.Fatalf("DrawDetections() error: %v", err)
	}

	img := readImage(t, out)
	isRed := func(x, y int) bool {
		r, g, b, _ := img.At(x, y).RGBA()
		return r>>8 > 200 && g>>8 < 60 && b>>8 < 60
	}
	if !isRed(10, 55) {
		t.Errorf("left edge pixel not red: %v", img.At(10, 55))
	}
	if !isRed(12, 19) {
		t.Errorf("label background pixel not red: %v", img.At(12, 19))
	}
	if r, g, b, _ := img.At(35, 55).RGBA(); r != 0 || g != 0 || b != 0 {
		t.Errorf("box interior was painted: %v", img.At(35, 55))
	}
}

func TestDrawDetectionsAtTopEdge(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "panel.png")
	writePNG(t, src, 40, 40)
	out := filepath.Join(dir, "annotated_panel.bmp")

	dets := []models.Detection{{
		ClassName:   "Rivet Damage",
		Confidence:  0.5,
		BoundingBox: models.BoundingBox{X1: 0, Y1: 0, X2: 20, Y2: 20},
	}}
	if err := DrawDetections(src, dets, out); err != nil {
		t.Fatalf("DrawDetections() error: %v", err)
	}
	if b := readImage(t, out).Bounds(); b.Dx() != 40 || b.Dy() != 40 {
		t.Errorf("annotated size = %v", b)
	}
}

func TestDrawDetectionsMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := DrawDetections(filepath.Join(dir, "missing.jpg"), nil, filepath.Join(dir, "out.jpg")); err == nil {
		t.Error("DrawDetections() with missing source succeeded")
	}
}

func TestColorFor(t *testing.T) {
	if c := colorFor("Deform"); c != (color.RGBA{G: 255, A: 255}) {
		t.Errorf("Deform colour = %v", c)
	}
	if c := colorFor("Scratch"); c != fallbackColor {
		t.Errorf("unknown label colour = %v, want fallback", c)
	}
}
