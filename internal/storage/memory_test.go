package storage

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

func seedNotes(t *testing.T, store *MemoryStore[note, *note], n int) []string {
	t.Helper()
	ids := make([]string, n)
	timeline := testutil.NewTimeline(time.Now().UTC().Add(-time.Duration(n)*time.Hour), time.Hour)
	for i := range ids {
		rec := &note{
			Meta: record.Meta{
				CreatedTS: timeline.Next(),
			},
			Title:   fmt.Sprintf("note %02d", i),
			Details: map[string]any{"seq": i, "client": map[string]any{"ip": "10.0.0.1"}},
		}
		id, err := store.Insert(context.Background(), rec)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestMemoryStore_InsertThenGet(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()

	id, err := store.Insert(ctx, &note{Title: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, record.Fields{record.FieldID: id})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Title)
	assert.Equal(t, id, got.ID)
	assert.False(t, got.CreatedTS.IsZero())
	assert.False(t, got.LastUpdatedTS.IsZero())
}

func TestMemoryStore_GetNoMatchReturnsNil(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	got, err := store.Get(context.Background(), record.Fields{record.FieldID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_GetAmbiguousRejected(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	for range 2 {
		_, err := store.Insert(ctx, &note{Title: "dup"})
		require.NoError(t, err)
	}

	_, err := store.Get(ctx, record.Fields{"title": "dup"})
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
}

func TestMemoryStore_FilterByJSONPath(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	seedNotes(t, store, 3)
	_, err := store.Insert(ctx, &note{
		Title:   "other client",
		Details: map[string]any{"client": map[string]any{"ip": "192.168.0.9"}},
	})
	require.NoError(t, err)

	recs, err := store.GetAll(ctx, ListOptions{
		Filters: record.Fields{"details:client.ip": "192.168.0.9"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "other client", recs[0].Title)
}

func TestMemoryStore_FilterINAndNull(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	ids := seedNotes(t, store, 4)

	recs, err := store.GetAll(ctx, ListOptions{
		Filters: record.Fields{record.FieldID: []string{ids[0], ids[2]}},
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = store.GetAll(ctx, ListOptions{
		Filters: record.Fields{record.FieldID: []string{}},
	})
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
}

func TestMemoryStore_UpdatePreservesIdentityAndBumpsTimestamp(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()

	id, err := store.Insert(ctx, &note{Title: "before"})
	require.NoError(t, err)
	orig, err := store.Get(ctx, record.Fields{record.FieldID: id})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	err = store.Update(ctx, UpdateInput{
		Updates: record.Fields{"title": "after"},
		Filters: record.Fields{record.FieldID: id},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, record.Fields{record.FieldID: id})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
	assert.Equal(t, orig.ID, got.ID)
	assert.True(t, got.CreatedTS.Equal(orig.CreatedTS))
	assert.True(t, got.LastUpdatedTS.After(orig.LastUpdatedTS))
}

func TestMemoryStore_UpdateJSONPathAndAppend(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()

	id, err := store.Insert(ctx, &note{
		Title:   "doc",
		Details: map[string]any{"tags": []any{"a"}, "client": map[string]any{"ip": "10.0.0.1"}},
	})
	require.NoError(t, err)

	err = store.Update(ctx, UpdateInput{
		Updates: record.Fields{
			"details:client.ip":   "10.0.0.2",
			"details:tags@append": []any{"b"},
		},
		Filters: record.Fields{record.FieldID: id},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, record.Fields{record.FieldID: id})
	require.NoError(t, err)
	client := got.Details["client"].(map[string]any)
	assert.Equal(t, "10.0.0.2", client["ip"])
	assert.Equal(t, []any{"a", "b"}, got.Details["tags"])
}

func TestMemoryStore_UpdateConflictingPathsRejected(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	id, err := store.Insert(ctx, &note{Title: "doc", Details: map[string]any{}})
	require.NoError(t, err)

	err = store.Update(ctx, UpdateInput{
		Updates: record.Fields{
			"details":      map[string]any{"whole": true},
			"details:flag": false,
		},
		Filters: record.Fields{record.FieldID: id},
	})
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
}

func TestMemoryStore_DeleteGuardAndCount(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	seedNotes(t, store, 5)

	_, err := store.Delete(ctx, nil, nil)
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))

	n, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	deleted, err := store.Delete(ctx, record.Fields{"title": "note 00"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err = store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestMemoryStore_PaginateWalksAllWithoutDuplicates(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	seedNotes(t, store, 10)

	seen := make(map[string]bool)
	token := ""
	pages := 0
	var prev time.Time
	for {
		recs, next, err := store.GetAllPaginate(ctx, PageOptions{
			Field: record.FieldCreatedTS,
			Limit: 3,
			Token: token,
		})
		require.NoError(t, err)
		pages++
		for _, rec := range recs {
			assert.False(t, seen[rec.ID], "record %s repeated across pages", rec.ID)
			seen[rec.ID] = true
			if !prev.IsZero() {
				assert.True(t, rec.CreatedTS.Before(prev) || rec.CreatedTS.Equal(prev))
			}
			prev = rec.CreatedTS
		}
		if next == "" {
			break
		}
		token = next
		require.Less(t, pages, 20, "pagination did not terminate")
	}
	assert.Len(t, seen, 10)
}

func TestMemoryStore_BulkInsertCountsAndGeneratesMeta(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()

	recs := make([]*note, 25)
	for i := range recs {
		recs[i] = &note{Title: fmt.Sprintf("bulk %02d", i)}
	}
	require.NoError(t, store.BulkInsert(ctx, recs))

	n, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(recs)), n)

	all, err := store.GetAll(ctx, ListOptions{Limit: len(recs)})
	require.NoError(t, err)
	require.Len(t, all, len(recs))
	ids := make(map[string]bool)
	for _, rec := range all {
		assert.NotEmpty(t, rec.ID)
		assert.False(t, ids[rec.ID], "id %s assigned twice", rec.ID)
		ids[rec.ID] = true
		assert.False(t, rec.CreatedTS.IsZero())
		assert.False(t, rec.LastUpdatedTS.IsZero())
	}
}

func TestMemoryStore_PaginateRejectsAdditionalFilters(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	seedNotes(t, store, 3)

	_, _, err := store.GetAllPaginate(ctx, PageOptions{
		Field: record.FieldCreatedTS,
		Additional: []record.AdditionalFilter{
			{Statement: "title <> @af_title", Params: record.Fields{"af_title": "note 00"}},
		},
	})
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
}

func TestMemoryStore_PaginateByID(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()
	seedNotes(t, store, 4)

	first, token, err := store.GetAllPaginate(ctx, PageOptions{
		Field: record.FieldID,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, token)

	second, _, err := store.GetAllPaginate(ctx, PageOptions{
		Field: record.FieldID,
		Limit: 2,
		Token: token,
	})
	require.NoError(t, err)
	for _, rec := range second {
		assert.Less(t, rec.ID, first[1].ID)
	}
}

func TestMemoryStore_ReturnedRecordsAreIsolated(t *testing.T) {
	store := NewMemoryStore[note, *note]()
	ctx := context.Background()

	id, err := store.Insert(ctx, &note{Title: "doc", Details: map[string]any{"k": "v"}})
	require.NoError(t, err)

	got, err := store.Get(ctx, record.Fields{record.FieldID: id})
	require.NoError(t, err)
	got.Details["k"] = "mutated"

	again, err := store.Get(ctx, record.Fields{record.FieldID: id})
	require.NoError(t, err)
	assert.Equal(t, "v", again.Details["k"], "caller mutation must not leak into the store")
}

func TestNewBackend_SelectsMemoryWithoutPool(t *testing.T) {
	backend := NewBackend[note, *note](nil, "notes")
	_, ok := backend.(*MemoryStore[note, *note])
	assert.True(t, ok)
}
