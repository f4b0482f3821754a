// Package ingest stores uploaded photographs in a scoped temporary file and
// decodes them.
package ingest

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/bead-check/internal/apperrors"
)

const fallbackName = "upload"

// DefaultMaxPixels bounds the decoded size of an upload (8192x8192).
// Compressed formats can describe far larger rasters than the upload limit
// suggests, so the header is checked before any pixel is decoded.
const DefaultMaxPixels int64 = 1 << 26

// ErrTooManyPixels is returned when an image header exceeds the pixel limit.
var ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")

// Upload is a stored and decoded image. The caller owns the temporary file
// and must call Remove on every exit path.
type Upload struct {
	Name   string
	Path   string
	Format string
	Image  image.Image

	removed bool
}

// Remove deletes the temporary file. Calling it more than once, or after the
// file is already gone, is not an error.
func (u *Upload) Remove() error {
	if u == nil || u.removed {
		return nil
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	u.removed = true
	return nil
}

// Store writes uploads into a dedicated directory.
type Store struct {
	dir       string
	maxPixels int64
	logger    *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithMaxPixels sets the largest width*height accepted. Non-positive values
// keep DefaultMaxPixels.
func WithMaxPixels(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPixels = n
		}
	}
}

// NewStore creates the upload directory when absent.
func NewStore(dir string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %q: %w", dir, err)
	}
	s := &Store{dir: dir, maxPixels: DefaultMaxPixels, logger: logger.Named("ingest")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the payload under a collision resistant name and decodes it.
// On decode failure the file is removed before InvalidImage is returned.
func (s *Store) Save(requestID, name string, r io.Reader) (*Upload, error) {
	upload := &Upload{
		Name: name,
		Path: filepath.Join(s.dir, uuid.NewString()+"_"+sanitizeName(name)),
	}

	if err := s.write(upload.Path, r); err != nil {
		s.discard(upload, requestID)
		return nil, apperrors.New(apperrors.KindStorage, "ingest.write", requestID, err)
	}

	img, format, err := decodeFile(upload.Path, s.maxPixels)
	if err != nil {
		s.discard(upload, requestID)
		return nil, apperrors.New(apperrors.KindInvalidImage, "ingest.decode", requestID, err)
	}
	upload.Image = img
	upload.Format = format

	s.logger.Debug("upload stored",
		zap.String("request_id", requestID),
		zap.String("path", upload.Path),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)
	return upload, nil
}

func (s *Store) write(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) discard(upload *Upload, requestID string) {
	if err := upload.Remove(); err != nil {
		s.logger.Error("failed to remove temporary upload",
			zap.String("request_id", requestID),
			zap.String("path", upload.Path),
			zap.Error(err),
		)
	}
}

func decodeFile(path string, maxPixels int64) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, fmt.Errorf("%s image has empty dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, format, fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, format, err
	}
	return image.Decode(f)
}

// sanitizeName keeps only the base name of the declared filename so it can
// never escape the upload directory.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return fallbackName
	}
	return base
}
