package persistence

import (
	"encoding/json"
	"time"
)

// EncodeJSON serializes v for storage in a TEXT column. A nil value is
// stored as an empty string.
func EncodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeJSON is the inverse of EncodeJSON. An empty column decodes to the
// zero value of T.
func DecodeJSON[T any](data string) (T, error) {
	var v T
	if data == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, err
	}
	return v, nil
}

// unixNano maps the zero time to 0 so "unset" round-trips through BIGINT
// columns.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func optionalUnixNano(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return unixNano(*t)
}

func optionalFromUnixNano(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := fromUnixNano(n)
	return &t
}
