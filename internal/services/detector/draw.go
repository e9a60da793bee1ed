package detector

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/bmp"
	"golang.org/x/image/font/basicfont"

	"github.com/lehigh-university-libraries/defect-detect/internal/models"
)

var classColors = map[string]color.RGBA{
	"Crack":        {R: 255, A: 255},
	"Deform":       {G: 255, A: 255},
	"Paint Peel":   {B: 255, A: 255},
	"Rivet Damage": {R: 255, G: 255, A: 255},
}

var fallbackColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func colorFor(className string) color.RGBA {
	if c, ok := classColors[className]; ok {
		return c
	}
	return fallbackColor
}

// DrawDetections writes a copy of the source image with one outlined box and
// a filled label per detection. Labels sit above the box and are not kept
// inside the canvas.
func DrawDetections(imagePath string, detections []models.Detection, outputPath string) error {
	img, err := decodeImage(imagePath)
	if err != nil {
		return err
	}

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(basicfont.Face7x13)

	for _, d := range detections {
		x1, y1 := math.Trunc(d.BoundingBox.X1), math.Trunc(d.BoundingBox.Y1)
		x2, y2 := math.Trunc(d.BoundingBox.X2), math.Trunc(d.BoundingBox.Y2)
		c := colorFor(d.ClassName)

		dc.SetColor(c)
		dc.SetLineWidth(2)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		label := fmt.Sprintf("%s: %.2f", d.ClassName, d.Confidence)
		tw, th := dc.MeasureString(label)
		dc.DrawRectangle(x1, y1-th-10, tw, th+10)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawString(label, x1, y1-5)
	}

	return encodeImage(outputPath, dc.Image())
}

func encodeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create annotated image: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".bmp":
		err = bmp.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return f.Close()
}
