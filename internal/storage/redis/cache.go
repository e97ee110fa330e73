package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/tenant-tasks/internal/core"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type Client struct {
	*redis.Client
	statsTTL time.Duration
}

func NewClient(redisURL string, statsTTL time.Duration) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	if statsTTL <= 0 {
		statsTTL = time.Minute
	}

	return &Client{Client: redis.NewClient(opt), statsTTL: statsTTL}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}

	return json.Unmarshal(data, dest)
}

func taskStatsKey(tenantID string) string {
	return fmt.Sprintf("tenant:%s:task_stats", tenantID)
}

func taskStatsGenKey(tenantID string) string {
	return fmt.Sprintf("tenant:%s:task_stats_gen", tenantID)
}

// setIfGeneration stores the snapshot only while the tenant's generation
// still matches the one read before the statistics query started.
var setIfGeneration = redis.NewScript(`
if (redis.call("GET", KEYS[1]) or "0") == ARGV[1] then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// TaskStatsGeneration returns the tenant's invalidation counter. Read it
// before computing statistics and pass it to CacheTaskStats.
func (c *Client) TaskStatsGeneration(ctx context.Context, tenantID string) (int64, error) {
	gen, err := c.Get(ctx, taskStatsGenKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// CacheTaskStats reports false when an invalidation happened after gen was
// read; the snapshot is then discarded.
func (c *Client) CacheTaskStats(ctx context.Context, tenantID string, gen int64, stats *core.TaskStatistics) (bool, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return false, err
	}

	stored, err := setIfGeneration.Run(ctx, c.Client,
		[]string{taskStatsGenKey(tenantID), taskStatsKey(tenantID)},
		strconv.FormatInt(gen, 10), data, c.statsTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *Client) GetCachedTaskStats(ctx context.Context, tenantID string) (*core.TaskStatistics, error) {
	var stats core.TaskStatistics
	if err := c.GetJSON(ctx, taskStatsKey(tenantID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) InvalidateTaskStats(ctx context.Context, tenantID string) error {
	_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, taskStatsGenKey(tenantID))
		pipe.Del(ctx, taskStatsKey(tenantID))
		return nil
	})
	return err
}
