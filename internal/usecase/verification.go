package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/bead-check/internal/apperrors"
	"github.com/example/bead-check/internal/detector"
	"github.com/example/bead-check/internal/feedback"
	"github.com/example/bead-check/internal/ingest"
	"github.com/example/bead-check/internal/logging"
)

// Ingestor stores and decodes an upload.
type Ingestor interface {
	Save(requestID, name string, r io.Reader) (*ingest.Upload, error)
}

// OwnershipChecker confirms a child belongs to a parent.
type OwnershipChecker interface {
	Confirm(ctx context.Context, requestID string, parentID, childID uint64) error
}

// AnalyzeRequest is one photograph submitted for verification.
type AnalyzeRequest struct {
	ParentID string
	// ChildID is zero when the request is not scoped to a child.
	ChildID  uint64
	FileName string
	File     io.Reader
}

type stage string

const (
	stageReceived   stage = "received"
	stageIngested   stage = "ingested"
	stageDetected   stage = "detected"
	stageAggregated stage = "aggregated"
)

// VerificationUseCase sequences ingestion, detection and aggregation.
type VerificationUseCase struct {
	store    Ingestor
	detector detector.Detector
	children OwnershipChecker
	logger   *zap.Logger
}

// NewVerificationUseCase constructs a new use case instance. children may be
// nil, in which case child identifiers are only logged.
func NewVerificationUseCase(store Ingestor, det detector.Detector, children OwnershipChecker, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		store:    store,
		detector: det,
		children: children,
		logger:   logger.Named("verification_usecase"),
	}
}

// AnalyzeChildImage verifies one bead-craft photograph. The temporary upload
// is removed before returning on every path, including a panicking detector.
func (uc *VerificationUseCase) AnalyzeChildImage(ctx context.Context, req AnalyzeRequest) (report *feedback.Report, err error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_child_image", requestID).With(
		zap.String("parent_id", req.ParentID),
		zap.Uint64("child_id", req.ChildID),
	)

	start := time.Now()
	current := stageReceived
	var upload *ingest.Upload

	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("unexpected fault during analysis",
				zap.Any("panic", r),
				zap.String("stage", string(current)),
				zap.Stack("stack"),
			)
			report = nil
			err = apperrors.New(apperrors.KindInternal, "usecase.analyze_child_image", requestID, fmt.Errorf("panic: %v", r))
		}
		if upload != nil {
			if rmErr := upload.Remove(); rmErr != nil {
				opLogger.Error("failed to remove temporary upload", zap.String("path", upload.Path), zap.Error(rmErr))
			}
		}
		if err != nil {
			opLogger.Warn("analysis failed",
				zap.String("stage", string(current)),
				zap.String("kind", string(apperrors.KindOf(err))),
				zap.Error(err),
			)
		}
	}()

	if req.File == nil {
		return nil, apperrors.New(apperrors.KindMissingFile, "usecase.analyze_child_image", requestID, nil)
	}

	if req.ChildID != 0 && uc.children != nil {
		parentID, parseErr := strconv.ParseUint(req.ParentID, 10, 64)
		if parseErr == nil && parentID == 0 {
			parseErr = errors.New("parent id must be positive")
		}
		if parseErr != nil {
			return nil, apperrors.New(apperrors.KindInvalidRequest, "usecase.parse_parent_id", requestID, parseErr)
		}
		if err := uc.children.Confirm(ctx, requestID, parentID, req.ChildID); err != nil {
			return nil, err
		}
	}

	upload, err = uc.store.Save(requestID, req.FileName, req.File)
	if err != nil {
		return nil, err
	}
	current = stageIngested

	detections, err := uc.detector.Detect(ctx, upload.Image)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDetectionFailure, "usecase.detect", requestID, err)
	}
	current = stageDetected

	aggregated := feedback.Aggregate(detections)
	current = stageAggregated

	opLogger.Info("analysis completed",
		zap.Int("detections", len(aggregated.Feedback)),
		zap.Int("missing_count", aggregated.MissingCount),
		zap.Int("wrong_count", aggregated.WrongCount),
		zap.Any("buckets", aggregated.Buckets()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &aggregated, nil
}
