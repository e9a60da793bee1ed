package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
)

// GCVBackend uses Google Cloud Vision object localization. LocalizeObjects
// answers with Google's generic object vocabulary and takes no custom model,
// so only objects whose name happens to match a defect label
// (case-insensitively) survive. Most images yield no detections.
type GCVBackend struct {
	client  *vision.ImageAnnotatorClient
	classes []string
}

func NewGCV(classes []string) *GCVBackend {
	return &GCVBackend{classes: classes}
}

func (b *GCVBackend) Name() string {
	return "gcv"
}

func (b *GCVBackend) Load(ctx context.Context) error {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return fmt.Errorf("create vision client: %w", err)
	}
	b.client = client
	return nil
}

func (b *GCVBackend) Infer(ctx context.Context, frame Frame, th Thresholds) (Output, error) {
	if b.client == nil {
		return Output{}, errors.New("vision client not loaded")
	}

	f, err := os.Open(frame.Path)
	if err != nil {
		return Output{}, err
	}
	defer f.Close()

	image, err := vision.NewImageFromReader(f)
	if err != nil {
		return Output{}, err
	}

	annotations, err := b.client.LocalizeObjects(ctx, image, nil)
	if err != nil {
		return Output{}, err
	}

	bounds := frame.Image.Bounds()
	return convertLocalizedObjects(annotations, b.classes, bounds.Dx(), bounds.Dy(), th.Confidence), nil
}

func (b *GCVBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// convertLocalizedObjects turns normalized polygons into pixel corner boxes.
// Names outside the vocabulary get class id -1.
func convertLocalizedObjects(annotations []*visionpb.LocalizedObjectAnnotation, classes []string, width, height int, conf float64) Output {
	var out Output
	for _, a := range annotations {
		if a == nil || float64(a.GetScore()) < conf {
			continue
		}
		vertices := a.GetBoundingPoly().GetNormalizedVertices()
		if len(vertices) == 0 {
			slog.Warn("Vision object without bounding polygon", "name", a.GetName())
			continue
		}

		x1, y1 := float64(vertices[0].GetX()), float64(vertices[0].GetY())
		x2, y2 := x1, y1
		for _, v := range vertices[1:] {
			x1, y1 = min(x1, float64(v.GetX())), min(y1, float64(v.GetY()))
			x2, y2 = max(x2, float64(v.GetX())), max(y2, float64(v.GetY()))
		}

		out.Boxes = append(out.Boxes, [4]float64{
			x1 * float64(width),
			y1 * float64(height),
			x2 * float64(width),
			y2 * float64(height),
		})
		out.Scores = append(out.Scores, float64(a.GetScore()))
		out.ClassIDs = append(out.ClassIDs, classIndex(classes, a.GetName()))
	}
	return out
}

func classIndex(classes []string, name string) int {
	for i, c := range classes {
		if strings.EqualFold(c, strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}
