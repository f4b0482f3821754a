package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/bead-check/internal/apperrors"
	"github.com/example/bead-check/internal/repository"
)

type stubDirectory struct {
	child *repository.Child
	err   error
	calls int
}

func (s *stubDirectory) FindByIDAndParent(ctx context.Context, requestID string, childID, parentID uint64) (*repository.Child, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.child, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func TestConfirmUsesCachedOwnership(t *testing.T) {
	cache := &stubCache{getValues: []string{"1"}}
	dir := &stubDirectory{}
	resolver := NewChildResolver(dir, cache, zap.NewNop())

	if err := resolver.Confirm(context.Background(), "req", 7, 9); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if dir.calls != 0 {
		t.Fatalf("expected directory to be skipped, got %d calls", dir.calls)
	}
	if cache.getKeys[0] != "child:7:9" {
		t.Fatalf("unexpected cache key: %s", cache.getKeys[0])
	}
}

func TestConfirmFallsBackToDirectoryOnCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{ErrCacheMiss}}
	dir := &stubDirectory{child: &repository.Child{ID: 9, ParentID: 7}}
	resolver := NewChildResolver(dir, cache, zap.NewNop())

	if err := resolver.Confirm(context.Background(), "req", 7, 9); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if dir.calls != 1 {
		t.Fatalf("expected directory to be queried once, got %d", dir.calls)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "child:7:9" {
		t.Fatalf("expected ownership to be cached, got %v", cache.setKeys)
	}
}

func TestConfirmRetriesTransientCacheWrite(t *testing.T) {
	cache := &stubCache{getErrs: []error{ErrCacheMiss}, setErrs: []error{transientRedisError{}}}
	dir := &stubDirectory{child: &repository.Child{ID: 9, ParentID: 7}}
	resolver := NewChildResolver(dir, cache, zap.NewNop())
	resolver.policy.InitialBackoff = time.Millisecond

	if err := resolver.Confirm(context.Background(), "req", 7, 9); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 2 || cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %v", cache.setKeys)
	}
}

func TestConfirmReportsForeignChildAsForbidden(t *testing.T) {
	dir := &stubDirectory{err: repository.ErrChildNotFound}
	resolver := NewChildResolver(dir, nil, zap.NewNop())

	err := resolver.Confirm(context.Background(), "req", 7, 9)
	if kind := apperrors.KindOf(err); kind != apperrors.KindForbidden {
		t.Fatalf("expected forbidden, got %s (%v)", kind, err)
	}
}

func TestConfirmPropagatesLookupFailure(t *testing.T) {
	cause := apperrors.New(apperrors.KindInternal, "repository.find_child", "req", errors.New("connection refused"))
	resolver := NewChildResolver(&stubDirectory{err: cause}, &stubCache{getErrs: []error{errors.New("redis down")}}, zap.NewNop())

	err := resolver.Confirm(context.Background(), "req", 7, 9)
	if kind := apperrors.KindOf(err); kind != apperrors.KindInternal {
		t.Fatalf("expected internal, got %s (%v)", kind, err)
	}
}
