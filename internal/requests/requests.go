// Package requests stores a log of handled requests, one row per request
// with free-form metadata in a JSONB column.
package requests

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/khushal/pgstore/internal/record"
	"github.com/khushal/pgstore/internal/storage"
)

// Table is the backing table name.
const Table = "requests"

const cleanupBatchSize = 100

// statsWindow bounds how many recent rows feed the aggregate view.
const statsWindow = 100

// RequestRecord is one logged request.
type RequestRecord struct {
	record.Meta

	RequestName     string
	ResponseMessage string
	Metadata        map[string]any
}

func (r *RequestRecord) ToFields() record.Fields {
	fields := r.MetaFields()
	fields["request_name"] = r.RequestName
	fields["response_message"] = r.ResponseMessage
	fields["metadata"] = r.Metadata
	return fields
}

func (r *RequestRecord) FromFields(fields record.Fields) error {
	r.SetMetaFields(fields)
	r.RequestName, _ = fields["request_name"].(string)
	r.ResponseMessage, _ = fields["response_message"].(string)
	r.Metadata, _ = fields["metadata"].(map[string]any)
	return nil
}

// Stats aggregates the most recent requests.
type Stats struct {
	Total     int64
	Window    int
	ByName    map[string]int
	ByService map[string]int
}

// Log reads and writes request records through a storage backend.
type Log struct {
	store storage.Backend[RequestRecord, *RequestRecord]
}

// NewLog creates a request log; a nil pool selects the in-memory backend.
func NewLog(pool *storage.Pool) *Log {
	return &Log{store: storage.NewBackend[RequestRecord, *RequestRecord](pool, Table)}
}

// StoreRequest persists one request and returns its id.
func (l *Log) StoreRequest(ctx context.Context, rec *RequestRecord) (string, error) {
	id, err := l.store.Insert(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("store request: %w", err)
	}
	return id, nil
}

// RecentRequests returns the newest requests first.
func (l *Log) RecentRequests(ctx context.Context, limit int) ([]*RequestRecord, error) {
	return l.store.GetAll(ctx, storage.ListOptions{
		OrderBy: record.FieldCreatedTS,
		Limit:   limit,
	})
}

// RequestsByName returns requests with the given name, newest first.
func (l *Log) RequestsByName(ctx context.Context, name string, limit int) ([]*RequestRecord, error) {
	return l.store.GetAll(ctx, storage.ListOptions{
		Filters: record.Fields{"request_name": name},
		OrderBy: record.FieldCreatedTS,
		Limit:   limit,
	})
}

// RequestsByMetadata filters on keys inside the metadata document, e.g.
// {"service": "billing"} matches metadata->>'service' = 'billing'.
func (l *Log) RequestsByMetadata(ctx context.Context, metadata map[string]any, limit int) ([]*RequestRecord, error) {
	filters := make(record.Fields, len(metadata))
	for key, value := range metadata {
		filters["metadata:"+key] = value
	}
	return l.store.GetAll(ctx, storage.ListOptions{
		Filters: filters,
		OrderBy: record.FieldCreatedTS,
		Limit:   limit,
	})
}

// Page returns one page of requests ordered by creation time.
func (l *Log) Page(ctx context.Context, token string, limit int) ([]*RequestRecord, string, error) {
	return l.store.GetAllPaginate(ctx, storage.PageOptions{
		Token: token,
		Limit: limit,
		Field: record.FieldCreatedTS,
	})
}

// Count returns the total number of logged requests.
func (l *Log) Count(ctx context.Context) (int64, error) {
	return l.store.Count(ctx, nil)
}

// Stats summarizes the most recent requests by name and by the metadata
// service key.
func (l *Log) Stats(ctx context.Context) (*Stats, error) {
	total, err := l.Count(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := l.RecentRequests(ctx, statsWindow)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:     total,
		Window:    len(recent),
		ByName:    make(map[string]int),
		ByService: make(map[string]int),
	}
	for _, rec := range recent {
		stats.ByName[rec.RequestName]++
		if service, ok := rec.Metadata["service"].(string); ok {
			stats.ByService[service]++
		}
	}
	return stats, nil
}

// CleanupOld deletes everything beyond the newest keep requests, removing
// rows in bounded id batches, and returns the number deleted.
func (l *Log) CleanupOld(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, record.Validationf("cleanup", "keep must be non-negative")
	}
	// Walk pages of ids older than the keep horizon and delete them batch
	// by batch so no single statement grows unbounded.
	var deleted int64
	token := ""
	skipped := 0
	for {
		page, next, err := l.store.GetAllPaginate(ctx, storage.PageOptions{
			Token: token,
			Limit: storage.DefaultLimit,
			Field: record.FieldCreatedTS,
		})
		if err != nil {
			return deleted, fmt.Errorf("cleanup: %w", err)
		}
		var doomed []string
		for _, rec := range page {
			if skipped < keep {
				skipped++
				continue
			}
			doomed = append(doomed, rec.ID)
		}
		for batch := range slices.Chunk(doomed, cleanupBatchSize) {
			n, err := l.store.Delete(ctx, record.Fields{record.FieldID: batch}, nil)
			if err != nil {
				return deleted, fmt.Errorf("cleanup: %w", err)
			}
			deleted += n
		}
		if next == "" {
			return deleted, nil
		}
		token = next
	}
}

// Prune removes requests created before the cutoff.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	return l.store.Delete(ctx, nil, []record.AdditionalFilter{{
		Statement: record.FieldCreatedTS + " < @prune_before",
		Params:    map[string]any{"prune_before": before},
	}})
}
