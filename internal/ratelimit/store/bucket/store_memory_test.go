package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBucketSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketSuite))
}

func (s *InMemoryBucketSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "rl:tag:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("request over limit denied", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "rl:tag:over", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "rl:tag:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("window slides", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "rl:tag:slide", testLimit, testWindow)
			s.Require().NoError(err)
		}
		s.now = s.now.Add(testWindow + time.Second)
		result, err := s.store.Allow(s.ctx, "rl:tag:slide", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})
}

func (s *InMemoryBucketSuite) TestDeniedAttemptsDoNotExtendWindow() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "rl:tag:x", testLimit, testWindow)
		s.Require().NoError(err)
	}
	for range 50 {
		_, err := s.store.Allow(s.ctx, "rl:tag:x", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.now = s.now.Add(testWindow + time.Millisecond)
	result, err := s.store.Allow(s.ctx, "rl:tag:x", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketSuite) TestResetAndSweep() {
	_, err := s.store.Allow(s.ctx, "rl:tag:a", testLimit, testWindow)
	s.Require().NoError(err)
	_, err = s.store.Allow(s.ctx, "rl:tag:b", testLimit, testWindow)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.ctx, "rl:tag:a"))
	s.now = s.now.Add(2 * testWindow)
	s.Equal(1, s.store.Sweep())
}

func (s *InMemoryBucketSuite) TestConcurrent() {
	store := New()
	limit := 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for range 200 {
		wg.Go(func() {
			result, err := store.Allow(s.ctx, "rl:tag:concurrent", limit, testWindow)
			if err == nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	s.Equal(limit, allowed)
}
