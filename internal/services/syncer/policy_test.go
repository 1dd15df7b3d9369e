package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PolicySuite struct {
	suite.Suite
}

func (s *PolicySuite) TestBackoffDoubles() {
	p := NewPolicy(PolicyConfig{BaseDelay: 1000 * time.Millisecond})
	s.Equal(1000*time.Millisecond, p.Backoff(0))
	s.Equal(2000*time.Millisecond, p.Backoff(1))
	s.Equal(4000*time.Millisecond, p.Backoff(2))
	s.Equal(8000*time.Millisecond, p.Backoff(3))
}

func (s *PolicySuite) TestBackoffShiftCapped() {
	p := NewPolicy(PolicyConfig{BaseDelay: time.Millisecond})
	s.Equal(p.Backoff(30), p.Backoff(31))
	s.Equal(p.Backoff(30), p.Backoff(1000))
	s.Equal(p.Backoff(0), p.Backoff(-5))
}

func (s *PolicySuite) TestShouldRetry_NeverAttempted() {
	p := DefaultPolicy()
	now := time.Now().UTC()
	s.True(p.ShouldRetry(0, 3, nil, now))
}

func (s *PolicySuite) TestShouldRetry_Exhausted() {
	p := DefaultPolicy()
	now := time.Now().UTC()
	s.False(p.ShouldRetry(3, 3, nil, now))
	s.False(p.ShouldRetry(4, 3, &now, now))
}

// Schedule for maxRetries=3 / base=1000ms: attempts become due again at
// ~t+1000ms, ~t+2000ms, ~t+4000ms after each consecutive failure.
func (s *PolicySuite) TestShouldRetry_BackoffWindow() {
	p := NewPolicy(PolicyConfig{BaseDelay: 1000 * time.Millisecond})
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		retryCount int32
		due        time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
	} {
		s.False(p.ShouldRetry(tc.retryCount, 3, &t0, t0.Add(tc.due-time.Millisecond)))
		s.True(p.ShouldRetry(tc.retryCount, 3, &t0, t0.Add(tc.due)))
		s.Equal(t0.Add(tc.due), p.NextRetryAt(t0, tc.retryCount))
	}
}

func (s *PolicySuite) TestNextRetryAt_Monotonic() {
	p := NewPolicy(PolicyConfig{BaseDelay: 250 * time.Millisecond})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for n := int32(0); n < 20; n++ {
		s.True(p.NextRetryAt(now, n+1).After(p.NextRetryAt(now, n)))
	}
}

func (s *PolicySuite) TestDefaults() {
	p := NewPolicy(PolicyConfig{})
	s.Equal(1*time.Second, p.Backoff(0))
	s.Equal(int32(3), p.DefaultMaxRetries())
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}
