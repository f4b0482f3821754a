package grpcclient

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/bead-check/internal/apperrors"
	"github.com/example/bead-check/internal/detector"
)

// DetectMethod is the full method name served by the inference sidecar.
const DetectMethod = "/beadcheck.v1.BeadDetector/Detect"

// DialDetector returns a detector backed by a remote inference sidecar.
// The connection is safe for concurrent use and must be closed by the caller.
func DialDetector(ctx context.Context, addr string, labels detector.Labels, logger *zap.Logger, opts ...grpc.DialOption) (detector.Detector, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := apperrors.New(apperrors.KindDetectionFailure, "grpcclient.dial_detector", "", err)
		logger.Error("failed to dial bead detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcDetector{conn: conn, labels: labels, logger: logger.Named("grpc_detector")}, conn, nil
}

type grpcDetector struct {
	conn   grpc.ClientConnInterface
	labels detector.Labels
	logger *zap.Logger
}

func (g *grpcDetector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, detector.ToRGBA(img)); err != nil {
		return nil, apperrors.New(apperrors.KindDetectionFailure, "grpcclient.encode_image", "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(buf.Bytes()), resp); err != nil {
		wrapped := apperrors.New(apperrors.KindDetectionFailure, "grpcclient.detect", "", err)
		g.logger.Error("bead detector call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	labels := g.labels
	if names := resp.GetFields()["names"].GetListValue(); names != nil && len(names.GetValues()) > 0 {
		labels = make(detector.Labels, 0, len(names.GetValues()))
		for _, v := range names.GetValues() {
			labels = append(labels, v.GetStringValue())
		}
	}

	raw, err := parsePredictions(resp)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDetectionFailure, "grpcclient.parse_predictions", "", err)
	}
	detections, err := detector.FromRaw(raw, labels)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDetectionFailure, "grpcclient.resolve_labels", "", err)
	}
	return detections, nil
}

// parsePredictions reads rows of [x_center, y_center, width, height,
// confidence, class].
func parsePredictions(resp *structpb.Struct) ([]detector.RawPrediction, error) {
	field, ok := resp.GetFields()["predictions"]
	if !ok {
		return nil, fmt.Errorf("response has no predictions field")
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("predictions is not a list")
	}

	raw := make([]detector.RawPrediction, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		row := v.GetListValue()
		if row == nil || len(row.GetValues()) != 6 {
			return nil, fmt.Errorf("prediction %d: expected 6 numbers", i)
		}
		nums := make([]float64, 6)
		for j, cell := range row.GetValues() {
			n, ok := cell.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("prediction %d: field %d is not a number", i, j)
			}
			nums[j] = n.NumberValue
		}
		classIndex := int(nums[5])
		if float64(classIndex) != nums[5] {
			return nil, fmt.Errorf("prediction %d: class %v is not an integer", i, nums[5])
		}
		raw = append(raw, detector.RawPrediction{
			XCenter:    nums[0],
			YCenter:    nums[1],
			Width:      nums[2],
			Height:     nums[3],
			Confidence: nums[4],
			ClassIndex: classIndex,
		})
	}
	return raw, nil
}
