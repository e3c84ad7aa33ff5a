package inference

import (
	"fmt"
	"image"
	"math"
	"slices"

	"github.com/disintegration/imaging"
)

// yoloStrides are the YOLOv8 detection head strides.
var yoloStrides = []int{8, 16, 32}

// anchorCount returns the number of predictions a YOLOv8 head emits for a
// square input of size pixels (8400 for 640).
func anchorCount(size int) int {
	n := 0
	for _, s := range yoloStrides {
		n += (size / s) * (size / s)
	}
	return n
}

// preprocess stretches img to size x size and writes normalised RGB planes
// into dst in CHW order. len(dst) must be 3*size*size.
func preprocess(img image.Image, size int, dst []float32) {
	resized := imaging.Resize(img, size, size, imaging.Linear)
	plane := size * size
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			p := row[x*4 : x*4+3]
			i := y*size + x
			dst[i] = float32(p[0]) / 255
			dst[plane+i] = float32(p[1]) / 255
			dst[2*plane+i] = float32(p[2]) / 255
		}
	}
}

type candidate struct {
	class int
	score float32
	box   [4]float64
}

// decodeOutput reads a 1x(4+classes)xanchors tensor. Rows 0..3 hold the box
// centre and size in input pixels, the remaining rows hold class scores.
func decodeOutput(out []float32, classes, anchors, inputSize, srcW, srcH int, confidence float32) ([]candidate, error) {
	if want := (4 + classes) * anchors; len(out) != want {
		return nil, fmt.Errorf("unexpected output length: got %d, want %d", len(out), want)
	}

	sx := float64(srcW) / float64(inputSize)
	sy := float64(srcH) / float64(inputSize)
	w, h := float64(srcW), float64(srcH)

	var cands []candidate
	for i := range anchors {
		best, bestScore := -1, confidence
		for c := range classes {
			if s := out[(4+c)*anchors+i]; s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}

		cx, cy := float64(out[i]), float64(out[anchors+i])
		bw, bh := float64(out[2*anchors+i]), float64(out[3*anchors+i])
		cands = append(cands, candidate{
			class: best,
			score: bestScore,
			box: [4]float64{
				clamp((cx-bw/2)*sx, 0, w),
				clamp((cy-bh/2)*sy, 0, h),
				clamp((cx+bw/2)*sx, 0, w),
				clamp((cy+bh/2)*sy, 0, h),
			},
		})
	}
	return cands, nil
}

// nms keeps the highest scoring box of each overlapping group per class.
// The result is ordered by descending score.
func nms(cands []candidate, iouThreshold float64) []candidate {
	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	kept := make([]candidate, 0, len(sorted))
	for _, c := range sorted {
		suppressed := slices.ContainsFunc(kept, func(k candidate) bool {
			return k.class == c.class && iou(k.box, c.box) > iouThreshold
		})
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	ix := math.Max(0, math.Min(a[2], b[2])-math.Max(a[0], b[0]))
	iy := math.Max(0, math.Min(a[3], b[3])-math.Max(a[1], b[1]))
	inter := ix * iy
	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func area(b [4]float64) float64 {
	return math.Max(0, b[2]-b[0]) * math.Max(0, b[3]-b[1])
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// toDetections names each candidate by its class index.
func toDetections(cands []candidate, labels []string) []Detection {
	out := make([]Detection, 0, len(cands))
	for _, c := range cands {
		label := fmt.Sprintf("class_%d", c.class)
		if c.class < len(labels) {
			label = labels[c.class]
		}
		out = append(out, Detection{Label: label, Score: float64(c.score), Box: c.box})
	}
	return out
}
