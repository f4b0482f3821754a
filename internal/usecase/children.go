package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/bead-check/internal/apperrors"
	"github.com/example/bead-check/internal/logging"
	"github.com/example/bead-check/internal/repository"
	"github.com/example/bead-check/internal/retry"
)

// ChildDirectory is the identity collaborator that knows which children
// belong to which parent.
type ChildDirectory interface {
	FindByIDAndParent(ctx context.Context, requestID string, childID, parentID uint64) (*repository.Child, error)
}

// ChildResolver confirms child ownership, caching positive answers.
type ChildResolver struct {
	directory ChildDirectory
	cache     Cache
	logger    *zap.Logger
	policy    retry.Policy
}

// NewChildResolver builds a resolver. cache may be nil.
func NewChildResolver(directory ChildDirectory, cache Cache, logger *zap.Logger) *ChildResolver {
	return &ChildResolver{
		directory: directory,
		cache:     cache,
		logger:    logger.Named("child_resolver"),
		policy:    retry.DefaultPolicy,
	}
}

// Confirm returns nil when childID belongs to parentID. A foreign or unknown
// child is reported as Forbidden.
func (r *ChildResolver) Confirm(ctx context.Context, requestID string, parentID, childID uint64) error {
	key := ownershipKey(parentID, childID)
	opLogger := logging.WithOperation(r.logger, "usecase.confirm_child", requestID)

	if r.cache != nil {
		var cached string
		err := retry.Do(ctx, r.policy, r.logger, "cache.get.child", requestID, func() error {
			value, err := r.cache.Get(ctx, key)
			if errors.Is(err, ErrCacheMiss) {
				return nil
			}
			cached = value
			return err
		})
		if err != nil {
			opLogger.Warn("failed to read ownership cache", zap.Error(err))
		} else if cached == ownershipMarker {
			return nil
		}
	}

	if _, err := r.directory.FindByIDAndParent(ctx, requestID, childID, parentID); err != nil {
		if errors.Is(err, repository.ErrChildNotFound) {
			return apperrors.New(apperrors.KindForbidden, "usecase.confirm_child", requestID, err)
		}
		return err
	}

	if r.cache != nil {
		if err := retry.Do(ctx, r.policy, r.logger, "cache.set.child", requestID, func() error {
			return r.cache.Set(ctx, key, ownershipMarker, ownershipTTL)
		}); err != nil {
			opLogger.Warn("failed to cache child ownership", zap.Error(err))
		}
	}
	return nil
}
