package auth

import (
	"context"
	"strconv"
	"time"

	"campus-cms/core/store"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cms:login_attempts:"

// Mirrors the SQL upsert: an expired lock or a stale unlocked count restarts
// the count, a live lock is kept.
var recordFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local lockAt = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local staleBefore = tonumber(ARGV[5])
local failures = tonumber(redis.call('HGET', key, 'failures') or '0')
local locked = tonumber(redis.call('HGET', key, 'locked_until') or '0')
local updated = tonumber(redis.call('HGET', key, 'updated_at') or '0')
if (locked > 0 and locked <= now) or (locked == 0 and failures > 0 and updated < staleBefore) then
	failures = 1
	locked = 0
	if threshold <= 1 then
		locked = lockAt
	end
elseif locked > now then
	failures = failures + 1
else
	failures = failures + 1
	if failures >= threshold then
		locked = lockAt
	end
end
redis.call('HSET', key, 'failures', failures, 'locked_until', locked, 'updated_at', now)
redis.call('EXPIRE', key, ttl)
return {failures, locked}
`)

type RedisBackend struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisBackend keeps unlocked counters for retention after the last failure.
func NewRedisBackend(client redis.UniversalClient, retention time.Duration) *RedisBackend {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisBackend{client: client, retention: retention}
}

func (b *RedisBackend) Get(ctx context.Context, identifier string) (*store.AttemptRecord, error) {
	vals, err := b.client.HGetAll(ctx, redisKeyPrefix+identifier).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	failures, _ := strconv.Atoi(vals["failures"])
	locked, _ := strconv.ParseInt(vals["locked_until"], 10, 64)
	updated, _ := strconv.ParseInt(vals["updated_at"], 10, 64)
	rec := &store.AttemptRecord{Identifier: identifier, Failures: failures}
	if locked > 0 {
		rec.LockedUntil = time.Unix(locked, 0).UTC()
	}
	if updated > 0 {
		rec.UpdatedAt = time.Unix(updated, 0).UTC()
	}
	return rec, nil
}

func (b *RedisBackend) RecordFailure(ctx context.Context, identifier string, now time.Time, threshold int, window time.Duration) (*store.AttemptRecord, error) {
	lockAt := now.Add(window).Unix()
	ttl := int64(b.retention / time.Second)
	if w := int64(window/time.Second) + 1; w > ttl {
		ttl = w
	}
	res, err := recordFailureScript.Run(ctx, b.client, []string{redisKeyPrefix + identifier},
		now.Unix(), threshold, lockAt, ttl, now.Add(-window).Unix()).Int64Slice()
	if err != nil {
		return nil, err
	}
	rec := &store.AttemptRecord{Identifier: identifier}
	if len(res) == 2 {
		rec.Failures = int(res[0])
		if res[1] > 0 {
			rec.LockedUntil = time.Unix(res[1], 0).UTC()
		}
	}
	return rec, nil
}

func (b *RedisBackend) Reset(ctx context.Context, identifier string) error {
	return b.client.Del(ctx, redisKeyPrefix+identifier).Err()
}
