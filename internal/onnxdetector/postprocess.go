package onnxdetector

import (
	"sort"

	"github.com/chewxy/math32"
)

// candidate is one decoded output row, in source image pixels.
type candidate struct {
	xc, yc, w, h float32
	score        float32
	class        int
}

func (c candidate) corners() (x1, y1, x2, y2 float32) {
	return c.xc - c.w/2, c.yc - c.h/2, c.xc + c.w/2, c.yc + c.h/2
}

// outputRows is the number of anchor rows a YOLOv5 head emits for a square
// input: three anchors per cell at strides 8, 16 and 32.
func outputRows(inputSize int) int {
	rows := 0
	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		rows += 3 * cells * cells
	}
	return rows
}

// decodeOutput reads a [rows, 5+numClasses] YOLOv5 output. A row survives
// when objectness and objectness times its best class score both reach the
// threshold. Boxes are scaled from model input space to the source image.
func decodeOutput(data []float32, numClasses int, threshold, scaleX, scaleY float32) []candidate {
	width := 5 + numClasses
	rows := len(data) / width

	var out []candidate
	for r := 0; r < rows; r++ {
		row := data[r*width : (r+1)*width]
		objectness := row[4]
		if objectness <= threshold {
			continue
		}

		best, bestScore := 0, row[5]
		for c := 1; c < numClasses; c++ {
			if row[5+c] > bestScore {
				best, bestScore = c, row[5+c]
			}
		}
		score := objectness * bestScore
		if score <= threshold {
			continue
		}

		out = append(out, candidate{
			xc:    row[0] * scaleX,
			yc:    row[1] * scaleY,
			w:     row[2] * scaleX,
			h:     row[3] * scaleY,
			score: score,
			class: best,
		})
	}
	return out
}

// nonMaxSuppression keeps the highest scoring box of each overlapping group
// of the same class, returning at most maxDet boxes ordered by score.
func nonMaxSuppression(cands []candidate, iouThreshold float32, maxDet int) []candidate {
	if len(cands) == 0 {
		return nil
	}
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	kept := make([]candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		if len(kept) == maxDet {
			break
		}
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].class != sorted[i].class {
				continue
			}
			if iou(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b candidate) float32 {
	ax1, ay1, ax2, ay2 := a.corners()
	bx1, by1, bx2, by2 := b.corners()

	interW := math32.Min(ax2, bx2) - math32.Max(ax1, bx1)
	interH := math32.Min(ay2, by2) - math32.Max(ay1, by1)
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	union := a.w*a.h + b.w*b.h - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
