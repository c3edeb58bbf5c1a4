//go:build integration

package exclusions

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idregistry/internal/registry/store/memory"
	"idregistry/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *memory.Store
	cache *Cache
	ctx   context.Context
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.ctx = context.Background()
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.store = memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.cache = New(s.redis.Client, s.store, logger, WithTTL(time.Minute))
}

// TestReadThrough verifies both hit and miss markers are cached.
func (s *RedisCacheSuite) TestReadThrough() {
	_, err := s.store.AddMatchingExclusion(s.ctx, "spam@example.com")
	s.Require().NoError(err)

	excluded, err := s.cache.IsExcluded(s.ctx, "spam@example.com")
	s.Require().NoError(err)
	s.True(excluded)

	excluded, err = s.cache.IsExcluded(s.ctx, "fine@example.com")
	s.Require().NoError(err)
	s.False(excluded)

	// Remove from the store; the cached markers keep answering until
	// invalidation.
	s.Require().NoError(s.store.DeleteMatchingExclusion(s.ctx, "spam@example.com"))
	excluded, err = s.cache.IsExcluded(s.ctx, "spam@example.com")
	s.Require().NoError(err)
	s.True(excluded)
}

// TestInvalidate verifies stale markers are dropped after a change.
func (s *RedisCacheSuite) TestInvalidate() {
	_, err := s.store.AddMatchingExclusion(s.ctx, "spam@example.com")
	s.Require().NoError(err)

	excluded, err := s.cache.IsExcluded(s.ctx, "spam@example.com")
	s.Require().NoError(err)
	s.True(excluded)

	s.Require().NoError(s.store.DeleteMatchingExclusion(s.ctx, "spam@example.com"))
	s.cache.Invalidate(s.ctx)

	excluded, err = s.cache.IsExcluded(s.ctx, "spam@example.com")
	s.Require().NoError(err)
	s.False(excluded)
}
