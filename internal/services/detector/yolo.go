package detector

import (
	"image"
	"sort"

	"github.com/nfnt/resize"
)

type candidate struct {
	box   [4]float64
	score float64
	class int
}

// fillInput stretches img to size x size and writes it into dst as planar
// RGB scaled to [0, 1].
func fillInput(dst []float32, img image.Image, size int) {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()
	stride := size * size

	idx := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dst[idx] = float32(r>>8) / 255.0
			dst[idx+stride] = float32(g>>8) / 255.0
			dst[idx+2*stride] = float32(bl>>8) / 255.0
			idx++
		}
	}
}

// decodeYOLO reads a [4+numClasses, anchors] output laid out feature-major.
// Boxes come out as corner coordinates scaled by sx, sy.
func decodeYOLO(raw []float32, numClasses, anchors int, conf, sx, sy float64) []candidate {
	if len(raw) < (4+numClasses)*anchors {
		return nil
	}

	var out []candidate
	for i := 0; i < anchors; i++ {
		class, best := 0, float32(0)
		for c := 0; c < numClasses; c++ {
			if v := raw[(4+c)*anchors+i]; v > best {
				best, class = v, c
			}
		}
		if float64(best) < conf {
			continue
		}

		xc := float64(raw[i])
		yc := float64(raw[anchors+i])
		w := float64(raw[2*anchors+i])
		h := float64(raw[3*anchors+i])
		out = append(out, candidate{
			box: [4]float64{
				(xc - w/2) * sx,
				(yc - h/2) * sy,
				(xc + w/2) * sx,
				(yc + h/2) * sy,
			},
			score: float64(best),
			class: class,
		})
	}
	return out
}

// nonMaxSuppression keeps the highest scoring box of each overlapping group
// of the same class. The result is ordered by descending score.
func nonMaxSuppression(cands []candidate, iouThreshold float64) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	suppressed := make([]bool, len(cands))
	var kept []candidate
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if !suppressed[j] && cands[j].class == cands[i].class && iou(cands[i].box, cands[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	ix1, iy1 := max(a[0], b[0]), max(a[1], b[1])
	ix2, iy2 := min(a[2], b[2]), min(a[3], b[3])
	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func toOutput(cands []candidate) Output {
	out := Output{
		Boxes:    make([][4]float64, 0, len(cands)),
		Scores:   make([]float64, 0, len(cands)),
		ClassIDs: make([]int, 0, len(cands)),
	}
	for _, c := range cands {
		out.Boxes = append(out.Boxes, c.box)
		out.Scores = append(out.Scores, c.score)
		out.ClassIDs = append(out.ClassIDs, c.class)
	}
	return out
}
