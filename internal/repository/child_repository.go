package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/bead-check/internal/retry"
)

// ErrChildNotFound is returned when no child matches the id and parent.
var ErrChildNotFound = errors.New("child not found")

// Child is the read-only view of a registered child. The table is owned by
// the account service; this package never migrates it.
type Child struct {
	ID       uint64 `gorm:"column:id;primaryKey"`
	ParentID uint64 `gorm:"column:parent_id"`
	Name     string `gorm:"column:child_name"`
}

// TableName overrides the default table name.
func (Child) TableName() string {
	return "children"
}

// ChildRepository looks up children owned by a parent.
type ChildRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewChildRepository creates a new repository instance.
func NewChildRepository(db *gorm.DB, logger *zap.Logger) *ChildRepository {
	return &ChildRepository{
		db:     db,
		logger: logger.Named("child_repository"),
		policy: retry.DefaultPolicy,
	}
}

// FindByIDAndParent returns the child when it belongs to parentID.
func (r *ChildRepository) FindByIDAndParent(ctx context.Context, requestID string, childID, parentID uint64) (*Child, error) {
	var child Child
	err := r.executeWithRetry(ctx, "repository.find_child", requestID, func() error {
		err := r.db.WithContext(ctx).
			Where("id = ? AND parent_id = ?", childID, parentID).
			Take(&child).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChildNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *ChildRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, requestID, fn)
}
