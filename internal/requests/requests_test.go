package requests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khushal/pgstore/internal/record"
	"github.com/khushal/pgstore/internal/testutil"
)

// seedLog spaces created_ts out explicitly; pagination tokens carry
// millisecond precision, so same-instant rows would not page cleanly.
func seedLog(t *testing.T, log *Log, n int) {
	t.Helper()
	ctx := context.Background()
	timeline := testutil.NewTimeline(time.Now().UTC().Add(-time.Duration(n)*time.Second), time.Second)
	for i := range n {
		service := "billing"
		if i%2 == 0 {
			service = "auth"
		}
		_, err := log.StoreRequest(ctx, &RequestRecord{
			Meta:            record.Meta{CreatedTS: timeline.Next()},
			RequestName:     fmt.Sprintf("op_%d", i%3),
			ResponseMessage: "ok",
			Metadata:        map[string]any{"service": service, "attempt": 1},
		})
		require.NoError(t, err)
	}
}

func TestLog_StoreAndRecent(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()

	id, err := log.StoreRequest(ctx, &RequestRecord{
		RequestName:     "sum",
		ResponseMessage: "42",
		Metadata:        map[string]any{"service": "calc"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recent, err := log.RecentRequests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "sum", recent[0].RequestName)
	assert.Equal(t, "42", recent[0].ResponseMessage)
	assert.Equal(t, "calc", recent[0].Metadata["service"])
	assert.False(t, recent[0].CreatedTS.IsZero())
}

func TestLog_RecentNewestFirst(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()
	seedLog(t, log, 5)

	recent, err := log.RecentRequests(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i].CreatedTS.After(recent[i-1].CreatedTS))
	}
}

func TestLog_RequestsByName(t *testing.T) {
	log := NewLog(nil)
	seedLog(t, log, 6)

	byName, err := log.RequestsByName(context.Background(), "op_0", 10)
	require.NoError(t, err)
	require.NotEmpty(t, byName)
	for _, rec := range byName {
		assert.Equal(t, "op_0", rec.RequestName)
	}
}

func TestLog_RequestsByMetadata(t *testing.T) {
	log := NewLog(nil)
	seedLog(t, log, 6)

	billing, err := log.RequestsByMetadata(context.Background(), map[string]any{"service": "billing"}, 10)
	require.NoError(t, err)
	require.Len(t, billing, 3)
	for _, rec := range billing {
		assert.Equal(t, "billing", rec.Metadata["service"])
	}
}

func TestLog_CountAndStats(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()
	seedLog(t, log, 9)

	n, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), stats.Total)
	assert.Equal(t, 9, stats.Window)
	assert.Equal(t, 3, stats.ByName["op_0"])
	assert.Equal(t, 5, stats.ByService["auth"])
	assert.Equal(t, 4, stats.ByService["billing"])
}

func TestLog_CleanupOld(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()
	seedLog(t, log, 10)

	deleted, err := log.CleanupOld(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	n, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// The survivors are the newest ones.
	recent, err := log.RecentRequests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
}

func TestLog_CleanupKeepsEverythingWhenUnderLimit(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()
	seedLog(t, log, 3)

	deleted, err := log.CleanupOld(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestLog_CleanupRejectsNegativeKeep(t *testing.T) {
	log := NewLog(nil)
	_, err := log.CleanupOld(context.Background(), -1)
	assert.Error(t, err)
}

func TestLog_Page(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()
	seedLog(t, log, 7)

	seen := 0
	token := ""
	for {
		page, next, err := log.Page(ctx, token, 3)
		require.NoError(t, err)
		seen += len(page)
		if next == "" {
			break
		}
		token = next
	}
	assert.Equal(t, 7, seen)
}
