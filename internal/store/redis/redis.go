// Package redis implements store.Store on Redis. Every record is a hash and
// every partition keeps a sorted-set index of its sort keys, so range queries
// are lex scans. Preconditioned writes and clamped adds run as Lua scripts:
// the script is the single atomic unit, never a client-side read-modify-write.
package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"boss-battle-service/internal/store"
)

// Store adapts a go-redis client to the engine's store contract.
type Store struct {
	client *goredis.Client
}

func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) itemKey(pk, sk string) string {
	return "bb:" + pk + "|" + sk
}

func (s *Store) indexKey(pk string) string {
	return "bb:" + pk + "|~index"
}

// KEYS[1] item hash, KEYS[2] partition index; ARGV[1] sk, rest k/v pairs.
var putIfAbsentScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('ZADD', KEYS[2], 0, ARGV[1])
return 1
`)

var putScript = goredis.NewScript(`
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('ZADD', KEYS[2], 0, ARGV[1])
return 1
`)

var updateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// ARGV[1] cond field, ARGV[2] expected value, rest k/v pairs.
var updateIfScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// ARGV[1] field, ARGV[2] delta, ARGV[3] floor. Returns {old, updated}.
var addClampedScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local old = tonumber(redis.call('HGET', KEYS[1], ARGV[1])) or 0
local updated = old + tonumber(ARGV[2])
local floor = tonumber(ARGV[3])
if updated < floor then
  updated = floor
end
redis.call('HSET', KEYS[1], ARGV[1], updated)
return {old, updated}
`)

func (s *Store) Get(ctx context.Context, pk, sk string) (store.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(pk, sk)).Result()
	if err != nil {
		return store.Record{}, fmt.Errorf("store get: %w", err)
	}
	if len(fields) == 0 {
		return store.Record{}, store.ErrNotFound
	}
	return store.Record{PK: pk, SK: sk, Fields: fields}, nil
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	_, err := putScript.Run(ctx, s.client,
		[]string{s.itemKey(rec.PK, rec.SK), s.indexKey(rec.PK)},
		flatten(rec.SK, rec.Fields)...).Result()
	if err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	return nil
}

func (s *Store) PutIfAbsent(ctx context.Context, rec store.Record) error {
	ok, err := putIfAbsentScript.Run(ctx, s.client,
		[]string{s.itemKey(rec.PK, rec.SK), s.indexKey(rec.PK)},
		flatten(rec.SK, rec.Fields)...).Int()
	if err != nil {
		return fmt.Errorf("store put-if-absent: %w", err)
	}
	if ok == 0 {
		return store.ErrConditionFailed
	}
	return nil
}

func (s *Store) Update(ctx context.Context, pk, sk string, set map[string]string) error {
	ok, err := updateScript.Run(ctx, s.client,
		[]string{s.itemKey(pk, sk)}, flatten("", set)[1:]...).Int()
	if err != nil {
		return fmt.Errorf("store update: %w", err)
	}
	if ok == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateIf(ctx context.Context, pk, sk, condField, expect string, set map[string]string) error {
	args := make([]interface{}, 0, 2+2*len(set))
	args = append(args, condField, expect)
	for k, v := range set {
		args = append(args, k, v)
	}
	res, err := updateIfScript.Run(ctx, s.client, []string{s.itemKey(pk, sk)}, args...).Int()
	if err != nil {
		return fmt.Errorf("store update-if: %w", err)
	}
	switch res {
	case -1:
		return store.ErrNotFound
	case 0:
		return store.ErrConditionFailed
	}
	return nil
}

func (s *Store) AddClamped(ctx context.Context, pk, sk, field string, delta, min int64) (int64, int64, error) {
	res, err := addClampedScript.Run(ctx, s.client,
		[]string{s.itemKey(pk, sk)},
		field, strconv.FormatInt(delta, 10), strconv.FormatInt(min, 10)).Result()
	if err == goredis.Nil {
		return 0, 0, store.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("store add-clamped: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("store add-clamped: unexpected reply %v", res)
	}
	old, _ := vals[0].(int64)
	updated, _ := vals[1].(int64)
	return old, updated, nil
}

func (s *Store) List(ctx context.Context, pk string, q store.Query) ([]store.Record, string, error) {
	after, err := store.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := store.PageSize(q.Limit)

	var min, max string
	if q.Descending {
		min = "-"
		if q.Prefix != "" {
			min = "[" + q.Prefix
		}
		max = "+"
		if q.Prefix != "" {
			max = "[" + q.Prefix + "\xff"
		}
		if after != "" {
			max = "(" + after
		}
	} else {
		min = "-"
		if q.Prefix != "" {
			min = "[" + q.Prefix
		}
		if after != "" {
			min = "(" + after
		}
		max = "+"
		if q.Prefix != "" {
			max = "[" + q.Prefix + "\xff"
		}
	}

	var keys []string
	if q.Descending {
		keys, err = s.client.ZRevRangeByLex(ctx, s.indexKey(pk), &goredis.ZRangeBy{
			Min: min, Max: max, Count: int64(limit) + 1,
		}).Result()
	} else {
		keys, err = s.client.ZRangeByLex(ctx, s.indexKey(pk), &goredis.ZRangeBy{
			Min: min, Max: max, Count: int64(limit) + 1,
		}).Result()
	}
	if err != nil {
		return nil, "", fmt.Errorf("store list: %w", err)
	}

	next := ""
	if len(keys) > limit {
		keys = keys[:limit]
		next = store.EncodeCursor(keys[len(keys)-1])
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	for i, sk := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.itemKey(pk, sk))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, "", fmt.Errorf("store list fetch: %w", err)
	}

	records := make([]store.Record, 0, len(keys))
	for i, sk := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		records = append(records, store.Record{PK: pk, SK: sk, Fields: fields})
	}
	return records, next, nil
}

func flatten(sk string, fields map[string]string) []interface{} {
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, sk)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
