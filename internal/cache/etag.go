package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ETag produces a strong entity tag for a payload: the hex SHA-256 of its
// canonical JSON serialization. Canonicalization round-trips the payload
// through an untyped value so that map insertion order never changes the
// tag -- semantically identical payloads always hash the same.
func ETag(payload any) (string, error) {
	data, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

// etagAndSize resolves the etag for a Set call (caller-supplied wins) and
// reports the serialized payload size for the cache's byte accounting.
func etagAndSize(payload any, supplied string) (etag string, size int64, err error) {
	if supplied != "" {
		// Size is best effort; an unmarshalable payload with a
		// caller-supplied etag is still cacheable.
		if data, err := json.Marshal(payload); err == nil {
			size = int64(len(data))
		}
		return supplied, size, nil
	}
	data, err := canonicalJSON(payload)
	if err != nil {
		return "", 0, err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), int64(len(data)), nil
}

// canonicalJSON serializes payload with deterministic key order.
// encoding/json sorts map keys and marshals struct fields in declaration
// order, so one round trip through any is enough.
func canonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return data, nil
}
