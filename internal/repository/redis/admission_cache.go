package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/client"
	"mint-gateway/internal/token"
	"mint-gateway/internal/util"
)

// Lua keeps each admission decision a single round trip and atomic under
// concurrent requests across gateway instances.
const (
	// incrScript bumps a fixed-window counter. The window TTL is set only
	// when the counter is created, so the count resets at the boundary with
	// no carry-over. Returns {count, remaining window millis}.
	incrScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

	// lockScript acquires a wallet lock, reclaiming it when the holder is
	// older than the staleness bound. Value is "owner|acquiredAtMillis".
	// Returns {acquired, reclaimed, previousOwner, heldSinceMillis}.
	lockScript = `
local value = redis.call('GET', KEYS[1])
if not value then
    redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2], 'PX', ARGV[3])
    return {1, 0, '', 0}
end
local sep = string.find(value, '|', 1, true)
local owner = string.sub(value, 1, sep - 1)
local since = tonumber(string.sub(value, sep + 1))
if tonumber(ARGV[2]) - since < tonumber(ARGV[4]) then
    return {0, 0, owner, since}
end
redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2], 'PX', ARGV[3])
return {1, 1, owner, since}
`

	// unlockScript releases a lock only when the caller still owns it.
	unlockScript = `
local value = redis.call('GET', KEYS[1])
if not value then
    return 0
end
local sep = string.find(value, '|', 1, true)
if string.sub(value, 1, sep - 1) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
)

// lockKeyTTL bounds lock lifetime server-side even if the process holding it
// dies without unlocking. Kept well above the staleness bound so reclamation
// stays the primary recovery path and gets audited.
const lockKeyTTL = time.Hour

// AdmissionCache is the Redis-backed admission store. It carries the same
// fixed-window and fail-fast-lock semantics as the in-memory store so the
// backend can be swapped per deployment without behavior drift.
type AdmissionCache struct {
	redis  *client.RedisClient
	prefix string
}

func NewAdmissionCache(redisClient *client.RedisClient) *AdmissionCache {
	return &AdmissionCache{
		redis:  redisClient,
		prefix: "admission:",
	}
}

func (c *AdmissionCache) key(parts ...string) string {
	return c.prefix + strings.Join(parts, "")
}

// Increment bumps the fixed-window counter behind key and reports the count
// and window bounds after the bump.
func (c *AdmissionCache) Increment(ctx context.Context, key string, window time.Duration) (admission.CounterResult, error) {
	raw, err := c.redis.Eval(ctx, incrScript, []string{c.key(key)}, window.Milliseconds())
	if err != nil {
		return admission.CounterResult{}, fmt.Errorf("failed to increment admission counter: %w", err)
	}

	values, err := evalInts(raw, 2)
	if err != nil {
		return admission.CounterResult{}, fmt.Errorf("unexpected counter script reply: %w", err)
	}
	count, ttlMillis := values[0], values[1]

	now := time.Now()
	resetAt := now.Add(time.Duration(ttlMillis) * time.Millisecond)
	return admission.CounterResult{
		Count:       int(count),
		WindowStart: resetAt.Add(-window),
		ResetAt:     resetAt,
	}, nil
}

func (c *AdmissionCache) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key(key)); err != nil {
		return fmt.Errorf("failed to reset admission counter: %w", err)
	}
	return nil
}

// TryLock attempts a fail-fast acquisition of the lock behind key. A holder
// older than staleAfter is presumed dead and the lock is reclaimed.
func (c *AdmissionCache) TryLock(ctx context.Context, key, owner string, staleAfter time.Duration) (admission.LockResult, error) {
	now := time.Now()
	raw, err := c.redis.Eval(ctx, lockScript, []string{c.key(key)},
		owner, now.UnixMilli(), lockKeyTTL.Milliseconds(), staleAfter.Milliseconds())
	if err != nil {
		return admission.LockResult{}, fmt.Errorf("failed to acquire wallet lock: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 4 {
		return admission.LockResult{}, fmt.Errorf("unexpected lock script reply: %v", raw)
	}

	acquired, err := evalInt(reply[0])
	if err != nil {
		return admission.LockResult{}, err
	}
	reclaimed, err := evalInt(reply[1])
	if err != nil {
		return admission.LockResult{}, err
	}
	prevOwner, _ := reply[2].(string)
	sinceMillis, err := evalInt(reply[3])
	if err != nil {
		return admission.LockResult{}, err
	}

	result := admission.LockResult{
		Acquired:  acquired == 1,
		Reclaimed: reclaimed == 1,
		Owner:     prevOwner,
	}
	if sinceMillis > 0 {
		result.HeldSince = time.UnixMilli(sinceMillis)
	}
	return result, nil
}

func (c *AdmissionCache) Unlock(ctx context.Context, key, owner string) error {
	raw, err := c.redis.Eval(ctx, unlockScript, []string{c.key(key)}, owner)
	if err != nil {
		return fmt.Errorf("failed to release wallet lock: %w", err)
	}
	if released, _ := evalInt(raw); released == 0 {
		util.Warn("Wallet lock already released or reowned",
			util.String("key", key),
			util.String("owner", owner))
	}
	return nil
}

// PutSnapshot stores a validation snapshot for wallet with the tamper-window
// TTL; Redis expiry enforces the window.
func (c *AdmissionCache) PutSnapshot(ctx context.Context, wallet string, snap token.Snapshot, ttl time.Duration) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.redis.Set(ctx, c.key("snapshot:", wallet), blob, ttl); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the wallet's live snapshot, or nil when none exists
// inside the tamper window.
func (c *AdmissionCache) GetSnapshot(ctx context.Context, wallet string) (*token.Snapshot, error) {
	raw, err := c.redis.Get(ctx, c.key("snapshot:", wallet))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap token.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func evalInts(raw interface{}, want int) ([]int64, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != want {
		return nil, fmt.Errorf("reply is not a %d-element array: %v", want, raw)
	}
	out := make([]int64, want)
	for i, v := range reply {
		n, err := evalInt(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func evalInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("reply element is not an integer: %q", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("reply element is not an integer: %v", v)
	}
}
