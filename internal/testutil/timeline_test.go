package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeline_StrictlyIncreasing(t *testing.T) {
	tl := NewTimeline(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	prev := tl.Next()
	for range 10 {
		cur := tl.Next()
		assert.True(t, cur.After(prev))
		assert.Equal(t, time.Second, cur.Sub(prev))
		prev = cur
	}
}

func TestTimeline_DefaultStep(t *testing.T) {
	tl := NewTimeline(time.Now(), 0)
	a := tl.Next()
	b := tl.Next()
	assert.Equal(t, time.Second, b.Sub(a))
}

func TestTimeline_ConcurrentNextUnique(t *testing.T) {
	tl := NewTimeline(time.Now(), time.Millisecond)

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := tl.Next()
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[ts])
			seen[ts] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}
