package redis

import (
	"context"
	"fmt"
)

// Outcomes of ReleaseIfOwner.
const (
	LockReleased int64 = 1
	LockAbsent   int64 = 0
	LockStolen   int64 = -1
)

// releaseIfOwnerScript deletes KEYS[1] only while it still holds ARGV[1].
const releaseIfOwnerScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[1])
return 1
`

// ReleaseIfOwner removes a lock key set with SetNX when token still owns it.
// The check and the delete happen in one script.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, token string) (int64, error) {
	store, err := c.cmd()
	if err != nil {
		return 0, err
	}
	res, err := store.Eval(ctx, releaseIfOwnerScript, []string{key}, token).Int64()
	if err != nil {
		return 0, fmt.Errorf("release lock %s: %w", key, err)
	}
	return res, nil
}
