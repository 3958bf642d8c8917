package sqlgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khushal/pgstore/internal/record"
)

func TestBuildFilter_Empty(t *testing.T) {
	clause, params, err := BuildFilter(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Empty(t, params)
}

func TestBuildFilter_Equality(t *testing.T) {
	clause, params, err := BuildFilter(record.Fields{"request_name": "sum"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "WHERE request_name = @request_name", clause)
	assert.Equal(t, map[string]any{"request_name": "sum"}, params)
}

func TestBuildFilter_SortedDeterministicTemplate(t *testing.T) {
	filters := record.Fields{
		"zeta":  1,
		"alpha": 2,
		"mid":   3,
	}
	clause, _, err := BuildFilter(filters, nil)
	require.NoError(t, err)

	// Keys compile in sorted order so equal inputs share one template.
	assert.Equal(t, "WHERE alpha = @alpha AND mid = @mid AND zeta = @zeta", clause)

	for range 10 {
		again, _, err := BuildFilter(filters, nil)
		require.NoError(t, err)
		assert.Equal(t, clause, again)
	}
}

func TestBuildFilter_NilIsNull(t *testing.T) {
	clause, params, err := BuildFilter(record.Fields{"last_login": nil}, nil)
	require.NoError(t, err)

	assert.Equal(t, "WHERE last_login IS NULL", clause)
	assert.Empty(t, params)
}

func TestBuildFilter_SequenceToIN(t *testing.T) {
	clause, params, err := BuildFilter(record.Fields{"id": []string{"a", "b", "c"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "WHERE id IN (@id_0, @id_1, @id_2)", clause)
	assert.Equal(t, map[string]any{"id_0": "a", "id_1": "b", "id_2": "c"}, params)
}

func TestBuildFilter_EmptySequenceRejected(t *testing.T) {
	_, _, err := BuildFilter(record.Fields{"id": []string{}}, nil)
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
}

func TestBuildFilter_JSONPathEquality(t *testing.T) {
	clause, params, err := BuildFilter(record.Fields{"metadata:client.ip": "10.0.0.1"}, nil)
	require.NoError(t, err)

	// Leaf extracted as text, value bound in its text form.
	assert.Equal(t, "WHERE metadata->'client'->>'ip' = @metadata_client_ip", clause)
	assert.Equal(t, map[string]any{"metadata_client_ip": "10.0.0.1"}, params)
}

func TestBuildFilter_JSONPathNumericValueAsText(t *testing.T) {
	_, params, err := BuildFilter(record.Fields{"metadata:attempt": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", params["metadata_attempt"])
}

func TestBuildFilter_JSONPathTimeValueAsText(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)
	_, params, err := BuildFilter(record.Fields{"metadata:seen_at": ts}, nil)
	require.NoError(t, err)
	assert.Equal(t, ts.Format(time.RFC3339Nano), params["metadata_seen_at"])
}

func TestBuildFilter_JSONPathIN(t *testing.T) {
	clause, params, err := BuildFilter(record.Fields{"metadata:service": []string{"billing", "auth"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "WHERE metadata->>'service' IN (@metadata_service_0, @metadata_service_1)", clause)
	assert.Equal(t, map[string]any{"metadata_service_0": "billing", "metadata_service_1": "auth"}, params)
}

func TestBuildFilter_DocumentEqualityBindsJSON(t *testing.T) {
	clause, params, err := BuildFilter(record.Fields{"metadata": map[string]any{"service": "auth"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "WHERE metadata = @metadata", clause)
	assert.JSONEq(t, `{"service":"auth"}`, params["metadata"].(string))
}

func TestBuildFilter_AdditionalFilters(t *testing.T) {
	additional := []record.AdditionalFilter{{
		Statement: "created_ts < @af_created_ts",
		Params:    map[string]any{"af_created_ts": time.Unix(0, 0)},
	}}
	clause, params, err := BuildFilter(record.Fields{"request_name": "sum"}, additional)
	require.NoError(t, err)

	assert.Equal(t, "WHERE request_name = @request_name AND created_ts < @af_created_ts", clause)
	assert.Len(t, params, 2)
}

func TestBuildFilter_AdditionalParamCollision(t *testing.T) {
	additional := []record.AdditionalFilter{{
		Statement: "request_name != @request_name",
		Params:    map[string]any{"request_name": "other"},
	}}
	_, _, err := BuildFilter(record.Fields{"request_name": "sum"}, additional)
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
}

func TestBuildFilter_NoValueInterpolation(t *testing.T) {
	clause, _, err := BuildFilter(record.Fields{
		"request_name":    "needle-a",
		"metadata:secret": "needle-b",
		"id":              []string{"needle-c"},
	}, nil)
	require.NoError(t, err)

	assert.NotContains(t, clause, "needle-a")
	assert.NotContains(t, clause, "needle-b")
	assert.NotContains(t, clause, "needle-c")
}
