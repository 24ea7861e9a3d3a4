// Package memory provides the in-process store.Store used by unit tests.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"boss-battle-service/internal/store"
)

// Store keeps all records behind one mutex; every operation is atomic with
// respect to the others, matching the guarantees of the real backend.
type Store struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]string // pk -> sk -> fields
}

func New() *Store {
	return &Store{items: make(map[string]map[string]map[string]string)}
}

func (s *Store) Get(_ context.Context, pk, sk string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.items[pk][sk]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return store.Record{PK: pk, SK: sk, Fields: copyFields(fields)}, nil
}

func (s *Store) Put(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition(rec.PK)[rec.SK] = copyFields(rec.Fields)
	return nil
}

func (s *Store) PutIfAbsent(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partition(rec.PK)
	if _, exists := part[rec.SK]; exists {
		return store.ErrConditionFailed
	}
	part[rec.SK] = copyFields(rec.Fields)
	return nil
}

func (s *Store) Update(_ context.Context, pk, sk string, set map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.items[pk][sk]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range set {
		fields[k] = v
	}
	return nil
}

func (s *Store) UpdateIf(_ context.Context, pk, sk, condField, expect string, set map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.items[pk][sk]
	if !ok {
		return store.ErrNotFound
	}
	if fields[condField] != expect {
		return store.ErrConditionFailed
	}
	for k, v := range set {
		fields[k] = v
	}
	return nil
}

func (s *Store) AddClamped(_ context.Context, pk, sk, field string, delta, min int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.items[pk][sk]
	if !ok {
		return 0, 0, store.ErrNotFound
	}
	old, _ := strconv.ParseInt(fields[field], 10, 64)
	updated := old + delta
	if updated < min {
		updated = min
	}
	fields[field] = strconv.FormatInt(updated, 10)
	return old, updated, nil
}

func (s *Store) List(_ context.Context, pk string, q store.Query) ([]store.Record, string, error) {
	after, err := store.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	part := s.items[pk]
	keys := make([]string, 0, len(part))
	for sk := range part {
		if q.Prefix == "" || strings.HasPrefix(sk, q.Prefix) {
			keys = append(keys, sk)
		}
	}
	sort.Strings(keys)
	if q.Descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	limit := store.PageSize(q.Limit)
	records := make([]store.Record, 0, limit)
	next := ""
	for _, sk := range keys {
		if after != "" {
			if (!q.Descending && sk <= after) || (q.Descending && sk >= after) {
				continue
			}
		}
		if len(records) == limit {
			next = store.EncodeCursor(records[len(records)-1].SK)
			break
		}
		records = append(records, store.Record{PK: pk, SK: sk, Fields: copyFields(part[sk])})
	}
	s.mu.Unlock()
	return records, next, nil
}

func (s *Store) partition(pk string) map[string]map[string]string {
	part, ok := s.items[pk]
	if !ok {
		part = make(map[string]map[string]string)
		s.items[pk] = part
	}
	return part
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
