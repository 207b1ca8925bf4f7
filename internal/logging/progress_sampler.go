package logging

import "sync"

// ProgressSampler suppresses repetitive per-task progress logs. A key is
// emitted the first time it is seen and again whenever its percentage crosses
// into a new bucket.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	last       map[string]int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (default 10).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, last: make(map[string]int)}
}

// ShouldLog reports whether a progress update for key should be logged.
// Negative percentages are treated as unknown and never logged.
func (s *ProgressSampler) ShouldLog(key string, percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	bucket := int(percent / s.bucketSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last[key]
	if seen && bucket <= prev {
		return false
	}
	s.last[key] = bucket
	return true
}

// Forget drops sampler state for key once a task finishes.
func (s *ProgressSampler) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.last, key)
	s.mu.Unlock()
}
