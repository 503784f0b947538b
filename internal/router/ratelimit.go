package router

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxLimiters  = 1024
	limiterIdle  = 10 * time.Minute
	defaultBurst = 1
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet holds one token bucket per caller name.
type limiterSet struct {
	mu    sync.Mutex
	rps   float64
	burst int
	byKey map[string]*limiterEntry
	now   func() time.Time
}

func newLimiterSet() *limiterSet {
	return &limiterSet{byKey: map[string]*limiterEntry{}, now: time.Now}
}

// configure resets all buckets. rps <= 0 disables limiting.
func (s *limiterSet) configure(rps float64, burst int) {
	if burst <= 0 {
		burst = defaultBurst
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rps == rps && s.burst == burst {
		return
	}
	s.rps = rps
	s.burst = burst
	s.byKey = map[string]*limiterEntry{}
}

func (s *limiterSet) allow(caller string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rps <= 0 {
		return true
	}
	now := s.now()
	key := strings.ToLower(caller)
	e := s.byKey[key]
	if e == nil {
		if len(s.byKey) >= maxLimiters {
			s.pruneLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.byKey[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (s *limiterSet) pruneLocked(now time.Time) {
	for k, e := range s.byKey {
		if now.Sub(e.seen) > limiterIdle {
			delete(s.byKey, k)
		}
	}
}
