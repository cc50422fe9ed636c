package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow counts events per aligned window. The check and the increment
// run in one Lua script so concurrent instances cannot both take the last slot.
type fixedWindow struct {
	rdb    redis.UniversalClient
	keys   keySet
	limit  int
	window time.Duration
	clock  Clock
	script *redis.Script
}

func newFixedWindow(config Config, keys keySet) *fixedWindow {
	return &fixedWindow{
		rdb:    config.Redis,
		keys:   keys,
		limit:  config.Limit,
		window: config.Window,
		clock:  config.Clock,
		script: redis.NewScript(luaFixedWindowCheckAndIncrement),
	}
}

func (fw *fixedWindow) windowKey(t time.Time) string {
	return fmt.Sprintf("%s:%d", fw.keys.window, t.UnixNano()/int64(fw.window))
}

func (fw *fixedWindow) allowN(ctx context.Context, n int) (bool, error) {
	allowed, err := fw.script.Run(ctx, fw.rdb,
		[]string{fw.windowKey(fw.clock.Now()), fw.keys.stats},
		n,
		fw.limit,
		fw.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

func (fw *fixedWindow) remaining(ctx context.Context) (int, error) {
	used, err := fw.rdb.Get(ctx, fw.windowKey(fw.clock.Now())).Int()
	if err == redis.Nil {
		return fw.limit, nil
	}
	if err != nil {
		return 0, err
	}
	return max(0, fw.limit-used), nil
}

// reset deletes every window counter under the key prefix.
func (fw *fixedWindow) reset(ctx context.Context) error {
	iter := fw.rdb.Scan(ctx, 0, fw.keys.window+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return fw.rdb.Del(ctx, keys...).Err()
}

const luaFixedWindowCheckAndIncrement = `
-- KEYS[1]: current window key
-- KEYS[2]: stats key
-- ARGV[1]: requests count
-- ARGV[2]: max requests per window
-- ARGV[3]: window length in milliseconds

local window_key = KEYS[1]
local stats_key = KEYS[2]

local requests = tonumber(ARGV[1])
local max_requests = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])

local current_count = tonumber(redis.call('GET', window_key) or "0")

redis.call('HINCRBY', stats_key, 'total_requests', requests)

if current_count + requests <= max_requests then
    local new_count = redis.call('INCRBY', window_key, requests)
    if new_count == requests then
        redis.call('PEXPIRE', window_key, window_ms + 1000)
    end
    redis.call('HINCRBY', stats_key, 'allowed_requests', requests)
    return 1
end

redis.call('HINCRBY', stats_key, 'denied_requests', requests)
return 0
`
