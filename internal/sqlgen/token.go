package sqlgen

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Pagination tokens are opaque encodings of the last-seen row's sort key.
// Time-ordered pagination uses base-36 millisecond timestamps; id-ordered
// pagination uses base64 of the identifier. Decoding recovers a value
// usable as a strict exclusive bound for the next page's predicate.

// EncodeTimeToken encodes a timestamp as a base-36 millisecond token.
func EncodeTimeToken(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 36)
}

// DecodeTimeToken decodes a base-36 millisecond token back to a UTC
// timestamp.
func DecodeTimeToken(token string) (time.Time, error) {
	millis, err := strconv.ParseInt(token, 36, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time token %q: %w", token, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// EncodeIDToken encodes a record id as a base64 token.
func EncodeIDToken(id string) string {
	return base64.StdEncoding.EncodeToString([]byte(id))
}

// DecodeIDToken decodes a base64 token back to a record id.
func DecodeIDToken(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode id token %q: %w", token, err)
	}
	return string(raw), nil
}
