// Package testutil provides small helpers shared by package tests.
package testutil

import (
	"sync"
	"time"
)

// Timeline hands out strictly increasing timestamps at a fixed step.
//
// Pagination tokens carry millisecond precision, so tests that seed many
// rows from time.Now() can land several rows in the same millisecond and
// page unpredictably. A Timeline keeps seeded rows strictly ordered at any
// token precision.
//
// Thread-safety: Next is safe for concurrent use.
type Timeline struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewTimeline creates a timeline starting at start, advancing by step per
// call. A non-positive step defaults to one second.
func NewTimeline(start time.Time, step time.Duration) *Timeline {
	if step <= 0 {
		step = time.Second
	}
	return &Timeline{next: start.UTC(), step: step}
}

// Next returns the next timestamp on the timeline.
func (tl *Timeline) Next() time.Time {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	ts := tl.next
	tl.next = tl.next.Add(tl.step)
	return ts
}

// Current returns the timestamp the next call to Next will return.
func (tl *Timeline) Current() time.Time {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.next
}
