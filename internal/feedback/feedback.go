// Package feedback turns raw bead detections into the report returned to the
// client.
package feedback

import "github.com/example/bead-check/internal/detector"

// StatusSuccess is the only status a completed analysis reports.
const StatusSuccess = "success"

// BoundingBox mirrors detector.BoundingBox with the wire field names.
type BoundingBox struct {
	XCenter float64 `json:"x_center"`
	YCenter float64 `json:"y_center"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Item is one detection in the report.
type Item struct {
	Class       string      `json:"class"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Report is the aggregated outcome of one analysis.
type Report struct {
	Status       string `json:"status"`
	Feedback     []Item `json:"feedback"`
	MissingCount int    `json:"missing_count"`
	WrongCount   int    `json:"wrong_count"`

	buckets map[string]int
}

// Aggregate copies every detection into a report, in model order, and counts
// the missing and wrong beads.
func Aggregate(detections []detector.Detection) Report {
	report := Report{
		Status:   StatusSuccess,
		Feedback: make([]Item, 0, len(detections)),
		buckets:  make(map[string]int),
	}

	for _, d := range detections {
		report.Feedback = append(report.Feedback, Item{
			Class:      d.Class,
			Confidence: d.Confidence,
			BoundingBox: BoundingBox{
				XCenter: d.Box.XCenter,
				YCenter: d.Box.YCenter,
				Width:   d.Box.Width,
				Height:  d.Box.Height,
			},
		})
		report.buckets[d.Class]++
	}

	report.MissingCount = report.buckets[detector.LabelMissingBead]
	report.WrongCount = report.buckets[detector.LabelWrongBead]
	return report
}

// Buckets returns a copy of the per-label counts.
func (r Report) Buckets() map[string]int {
	out := make(map[string]int, len(r.buckets))
	for label, n := range r.buckets {
		out[label] = n
	}
	return out
}
