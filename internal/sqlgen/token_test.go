package sqlgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeToken_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 29, 10, 15, 30, 123_000_000, time.UTC)
	token := EncodeTimeToken(ts)

	decoded, err := DecodeTimeToken(token)
	require.NoError(t, err)
	// Millisecond precision survives, finer precision is truncated.
	assert.True(t, decoded.Equal(ts.Truncate(time.Millisecond)), "got %v", decoded)
}

func TestTimeToken_Ordering(t *testing.T) {
	// Tokens are opaque to callers but decode back to comparable times.
	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dEarly, err := DecodeTimeToken(EncodeTimeToken(early))
	require.NoError(t, err)
	dLate, err := DecodeTimeToken(EncodeTimeToken(late))
	require.NoError(t, err)
	assert.True(t, dEarly.Before(dLate))
}

func TestDecodeTimeToken_Garbage(t *testing.T) {
	_, err := DecodeTimeToken("not base36!!")
	assert.Error(t, err)
}

func TestIDToken_RoundTrip(t *testing.T) {
	id := "7d4420c1-9dcf-44b5-b4e5-16ea6cbbb9dd"
	token := EncodeIDToken(id)
	assert.NotEqual(t, id, token)

	decoded, err := DecodeIDToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestDecodeIDToken_Garbage(t *testing.T) {
	_, err := DecodeIDToken("%%%not base64%%%")
	assert.Error(t, err)
}
