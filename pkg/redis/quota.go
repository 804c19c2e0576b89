package redis

import (
	"context"
	"fmt"
)

// reserveSlotScript admits and reserves in one step. A missing key is seeded
// from the caller's live count so the gate starts from reality.
//
// KEYS[1] quota key; ARGV[1] limit (-1 unlimited); ARGV[2] live count seed.
// Returns the reserved count, or -1 when the limit is reached.
const reserveSlotScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local seed = tonumber(ARGV[2])
if redis.call("EXISTS", key) == 0 then
  redis.call("SET", key, seed)
end
local current = tonumber(redis.call("GET", key))
if limit >= 0 and current >= limit then
  return -1
end
return redis.call("INCR", key)
`

// releaseSlotScript decrements a reservation without going below zero.
const releaseSlotScript = `
local key = KEYS[1]
local current = tonumber(redis.call("GET", key) or "0")
if current <= 0 then
  redis.call("SET", key, 0)
  return 0
end
return redis.call("DECR", key)
`

// ReserveSlot atomically checks a per-owner count against limit and increments
// it when there is room. seed is only used when the key does not exist yet.
func (c *Client) ReserveSlot(ctx context.Context, key string, limit, seed int64) (bool, int64, error) {
	store, err := c.cmd()
	if err != nil {
		return false, 0, err
	}
	res, err := store.Eval(ctx, reserveSlotScript, []string{key}, limit, seed).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("reserve slot: %w", err)
	}
	if res < 0 {
		return false, 0, nil
	}
	return true, res, nil
}

// ReleaseSlot gives back a reservation taken by ReserveSlot.
func (c *Client) ReleaseSlot(ctx context.Context, key string) (int64, error) {
	store, err := c.cmd()
	if err != nil {
		return 0, err
	}
	res, err := store.Eval(ctx, releaseSlotScript, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("release slot: %w", err)
	}
	return res, nil
}
