// Package store defines the key-value contract the battle engine runs on:
// get by key, put guarded by a precondition, atomic clamped adds, and range
// queries over a sort key within a partition. Conditional and atomic writes
// are first-class here so no component ever does a read-modify-write on
// shared counters or status fields.
package store

import (
	"context"
	"encoding/base64"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("store: record not found")
	// ErrConditionFailed is returned when a precondition on an existing
	// record does not hold (duplicate create, compare-and-set mismatch).
	ErrConditionFailed = errors.New("store: condition failed")
)

// Record is one stored item: a partition key, a sort key within the
// partition, and flat string fields. Numeric fields mutated through
// AddClamped are stored as decimal strings.
type Record struct {
	PK     string
	SK     string
	Fields map[string]string
}

// Query selects records within one partition, ordered by sort key.
type Query struct {
	// Prefix restricts results to sort keys beginning with the prefix.
	Prefix string
	// Cursor resumes a previous query; opaque to callers.
	Cursor string
	// Limit caps the page size; implementations default it when zero.
	Limit int
	// Descending reverses the sort-key order.
	Descending bool
}

// Store is the engine's persistence contract.
type Store interface {
	// Get returns the record at (pk, sk) or ErrNotFound.
	Get(ctx context.Context, pk, sk string) (Record, error)

	// Put writes the record unconditionally, replacing any existing fields.
	// Only used for idempotent puts keyed by their natural identity.
	Put(ctx context.Context, rec Record) error

	// PutIfAbsent writes the record only if no record exists at its key,
	// returning ErrConditionFailed otherwise.
	PutIfAbsent(ctx context.Context, rec Record) error

	// Update merges fields into an existing record, returning ErrNotFound
	// if the record does not exist.
	Update(ctx context.Context, pk, sk string, set map[string]string) error

	// UpdateIf merges fields only when condField currently equals expect,
	// returning ErrConditionFailed on mismatch and ErrNotFound when the
	// record is absent. This is the transition primitive: concurrent racers
	// see exactly one winner.
	UpdateIf(ctx context.Context, pk, sk, condField, expect string, set map[string]string) error

	// AddClamped atomically adds delta to a numeric field, clamping the
	// result at min. Returns the value before and after the add.
	AddClamped(ctx context.Context, pk, sk, field string, delta, min int64) (old, updated int64, err error)

	// List returns a page of records in the partition plus the cursor for
	// the next page ("" when exhausted).
	List(ctx context.Context, pk string, q Query) ([]Record, string, error)
}

const defaultPageSize = 100

// EncodeCursor wraps the last-seen sort key into an opaque pagination token.
func EncodeCursor(sk string) string {
	if sk == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(sk))
}

// DecodeCursor unwraps a pagination token produced by EncodeCursor.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", errors.New("store: malformed cursor")
	}
	return string(raw), nil
}

// PageSize normalizes a requested limit.
func PageSize(limit int) int {
	if limit <= 0 || limit > defaultPageSize {
		return defaultPageSize
	}
	return limit
}
