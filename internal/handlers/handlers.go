package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/bead-check/internal/apperrors"
	"github.com/example/bead-check/internal/auth"
	"github.com/example/bead-check/internal/feedback"
	"github.com/example/bead-check/internal/logging"
	"github.com/example/bead-check/internal/usecase"
)

// MaxUploadSize is the default request body limit for image uploads.
const MaxUploadSize = 10 << 20

// Analyzer runs the bead verification flow.
type Analyzer interface {
	AnalyzeChildImage(ctx context.Context, req usecase.AnalyzeRequest) (*feedback.Report, error)
}

type analyzeForm struct {
	File    *multipart.FileHeader `form:"file" binding:"required"`
	ChildID string                `form:"child_id" binding:"omitempty,numeric"`
}

// NewEngine builds a gin engine with request logging, recovery and CORS.
func NewEngine(logger *zap.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(
		logging.GinMiddleware(logger),
		gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
			logger.Error("panic recovered in handler", zap.Any("panic", recovered), zap.Stack("stack"))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": apperrors.PublicMessage(apperrors.KindInternal)})
		}),
		corsMiddleware(),
	)
	return engine
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, analyzer Analyzer, authMiddleware gin.HandlerFunc, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/analyze_child_image", authMiddleware, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

		var form analyzeForm
		if err := c.ShouldBindWith(&form, binding.FormMultipart); err != nil {
			writeError(c, classifyBindError(err))
			return
		}

		childID, err := resolveChildID(c.Request.Context(), form.ChildID)
		if err != nil {
			writeError(c, err)
			return
		}

		src, err := form.File.Open()
		if err != nil {
			writeError(c, apperrors.New(apperrors.KindStorage, "handlers.open_upload", "", err))
			return
		}
		defer src.Close()

		parentID, _ := auth.GetParentID(c.Request.Context())
		report, err := analyzer.AnalyzeChildImage(c.Request.Context(), usecase.AnalyzeRequest{
			ParentID: parentID,
			ChildID:  childID,
			FileName: form.File.Filename,
			File:     src,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, report)
	})
}

// resolveChildID prefers the child session carried by the token over the
// form field.
func resolveChildID(ctx context.Context, formValue string) (uint64, error) {
	raw, ok := auth.GetChildID(ctx)
	if !ok {
		raw = strings.TrimSpace(formValue)
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.New(apperrors.KindInvalidRequest, "handlers.child_id", "", errors.New("child_id must be a positive integer"))
	}
	return id, nil
}

func classifyBindError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
		return apperrors.New(apperrors.KindPayloadTooLarge, "handlers.bind", "", err)
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, fieldErr := range validationErrs {
			if fieldErr.Field() != "File" {
				return apperrors.New(apperrors.KindInvalidRequest, "handlers.bind", "", err)
			}
		}
	}
	return apperrors.New(apperrors.KindMissingFile, "handlers.bind", "", err)
}

func writeError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	_ = c.Error(err)
	c.JSON(apperrors.StatusCode(kind), gin.H{"error": apperrors.PublicMessage(kind)})
}
