// Package onnxdetector runs a YOLOv5 bead model exported to ONNX in-process
// through onnxruntime.
package onnxdetector

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/bead-check/internal/detector"
)

// Config describes the exported model and how to post-process it.
type Config struct {
	ModelPath      string
	SharedLibPath  string
	InputSize      int
	Labels         detector.Labels
	ConfThreshold  float32
	IoUThreshold   float32
	MaxDetections  int
	IntraOpThreads int
}

// Detector owns one onnxruntime session. The session reuses its input and
// output tensors, so Detect calls are serialized.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  *zap.Logger
}

var _ detector.Detector = (*Detector)(nil)

// New initializes the onnxruntime environment and loads the model. It is
// meant to be called once at process start.
func New(cfg Config, logger *zap.Logger) (*Detector, error) {
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = 1000
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("onnx detector requires a label table")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", cfg.ModelPath)
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(cfg.SharedLibPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "initialize onnxruntime environment")
		}
	}

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outputRows(cfg.InputSize)), int64(5+len(cfg.Labels))))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, errors.Wrap(err, "set intra-op threads")
		}
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create onnx session")
	}

	logger = logger.Named("onnx_detector")
	logger.Info("bead model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("input_size", cfg.InputSize),
		zap.Strings("labels", cfg.Labels),
	)

	return &Detector{
		cfg:     cfg,
		session: session,
		input:   input,
		output:  output,
		logger:  logger,
	}, nil
}

// Detect runs the model exactly once. The run is not interruptible, so ctx
// is not consulted once the session lock is held.
func (d *Detector) Detect(_ context.Context, img image.Image) ([]detector.Detection, error) {
	rgba := detector.ToRGBA(img)
	bounds := rgba.Bounds()
	size := float32(d.cfg.InputSize)
	scaleX := float32(bounds.Dx()) / size
	scaleY := float32(bounds.Dy()) / size

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, errors.New("onnx detector is closed")
	}
	if err := fillInput(rgba, d.input.GetData(), d.cfg.InputSize); err != nil {
		return nil, errors.Wrap(err, "prepare input")
	}
	if err := d.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run onnx session")
	}

	cands := decodeOutput(d.output.GetData(), len(d.cfg.Labels), d.cfg.ConfThreshold, scaleX, scaleY)
	kept := nonMaxSuppression(cands, d.cfg.IoUThreshold, d.cfg.MaxDetections)

	raw := make([]detector.RawPrediction, 0, len(kept))
	for _, c := range kept {
		raw = append(raw, detector.RawPrediction{
			XCenter:    float64(c.xc),
			YCenter:    float64(c.yc),
			Width:      float64(c.w),
			Height:     float64(c.h),
			Confidence: float64(c.score),
			ClassIndex: c.class,
		})
	}
	detections, err := detector.FromRaw(raw, d.cfg.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "interpret model output")
	}
	return detections, nil
}

// Close releases the session and tensors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	if d.session != nil {
		firstErr = d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return firstErr
}
