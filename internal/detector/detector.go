// Package detector defines the call contract between the verification flow
// and a pretrained bead detection model.
package detector

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
)

// Well known labels of the bead model. The model may define more.
const (
	LabelCorrectBead = "correct_bead"
	LabelMissingBead = "missing_bead"
	LabelWrongBead   = "wrong_bead"
)

// BoundingBox is a box in the coordinate convention the model emits.
type BoundingBox struct {
	XCenter float64
	YCenter float64
	Width   float64
	Height  float64
}

// Detection is one object instance reported by the model.
type Detection struct {
	Class      string
	Confidence float64
	Box        BoundingBox
}

// Detector runs the model once over an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// RawPrediction is a single model output row before label resolution.
type RawPrediction struct {
	XCenter    float64
	YCenter    float64
	Width      float64
	Height     float64
	Confidence float64
	ClassIndex int
}

// Labels is the model's fixed class table, indexed by class id.
type Labels []string

// DefaultLabels matches the class order of the bead model.
var DefaultLabels = Labels{LabelCorrectBead, LabelMissingBead, LabelWrongBead}

// ParseLabels splits a comma separated label list.
func ParseLabels(raw string) Labels {
	var labels Labels
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			labels = append(labels, name)
		}
	}
	return labels
}

// Resolve returns the label for a class index.
func (l Labels) Resolve(index int) (string, error) {
	if index < 0 || index >= len(l) {
		return "", fmt.Errorf("class index %d outside label table of %d entries", index, len(l))
	}
	return l[index], nil
}

// FromRaw resolves class indexes and validates confidences. Order and box
// values are preserved as emitted.
func FromRaw(preds []RawPrediction, labels Labels) ([]Detection, error) {
	detections := make([]Detection, 0, len(preds))
	for i, p := range preds {
		name, err := labels.Resolve(p.ClassIndex)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
			return nil, fmt.Errorf("prediction %d: confidence %v outside [0,1]", i, p.Confidence)
		}
		detections = append(detections, Detection{
			Class:      name,
			Confidence: p.Confidence,
			Box: BoundingBox{
				XCenter: p.XCenter,
				YCenter: p.YCenter,
				Width:   p.Width,
				Height:  p.Height,
			},
		})
	}
	return detections, nil
}

// ToRGBA converts any decoded image into opaque 8-bit RGBA with a zero
// origin. Alpha is dropped rather than composited: pixels keep their straight
// RGB value, so fully transparent areas keep their colour.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) && rgba.Opaque() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	// draw.Draw goes through premultiplied colour, which zeroes the RGB of
	// transparent pixels. Straight-alpha sources are copied directly.
	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			start := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:], src.Pix[start:start+4*b.Dx()])
		}
	case *image.NRGBA64:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := src.NRGBA64At(b.Min.X+x, b.Min.Y+y)
				dst.SetRGBA(x, y, color.RGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8)})
			}
		}
	case *image.Paletted:
		palette := make([]color.RGBA, len(src.Palette))
		for i, entry := range src.Palette {
			n := color.NRGBAModel.Convert(entry).(color.NRGBA)
			palette[i] = color.RGBA{R: n.R, G: n.G, B: n.B}
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				if idx := int(src.ColorIndexAt(b.Min.X+x, b.Min.Y+y)); idx < len(palette) {
					dst.SetRGBA(x, y, palette[idx])
				}
			}
		}
	default:
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
