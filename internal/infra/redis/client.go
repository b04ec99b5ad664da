// Package redis shares status snapshots between a running orchestrator and
// offline `status` invocations, and guards against two orchestrators
// driving the same tenant.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
)

// ErrLockHeld is returned when another orchestrator owns the tenant lock.
var ErrLockHeld = errors.New("tenant lock held by another orchestrator")

// DefaultTTL is the snapshot lifetime when none is configured.
const DefaultTTL = time.Minute

// Client wraps Redis operations for status sharing.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, ttl: cfg.lifetime()}, nil
}

func (cfg Config) lifetime() time.Duration {
	if cfg.TTL <= 0 {
		return DefaultTTL
	}
	return cfg.TTL
}

// TTL is the lifetime of published snapshots and of the orchestrator lock.
func (c *Client) TTL() time.Duration {
	return c.ttl
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func statusKey(scope string) string {
	return fmt.Sprintf("blockwatcher:status:%s", scope)
}

func lockKey(scope string) string {
	return fmt.Sprintf("blockwatcher:lock:%s", scope)
}

// PublishStatus replaces the snapshot of scope (a tenant id, or "files")
// with one hash field per network. The whole hash expires after the TTL,
// so a dead orchestrator's snapshot disappears on its own.
func (c *Client) PublishStatus(ctx context.Context, scope string, statuses []domain.NetworkStatus) error {
	fields, err := encodeStatuses(statuses)
	if err != nil {
		return err
	}
	key := statusKey(scope)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status failed: %w", err)
	}
	return nil
}

// LoadStatus returns the published snapshot of scope ordered by network.
// found is false when nothing was published or it expired.
func (c *Client) LoadStatus(ctx context.Context, scope string) (statuses []domain.NetworkStatus, found bool, err error) {
	fields, err := c.rdb.HGetAll(ctx, statusKey(scope)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	statuses, err = decodeStatuses(fields)
	if err != nil {
		return nil, false, err
	}
	return statuses, true, nil
}

// AcquireLock takes the orchestrator lock of scope for owner.
func (c *Client) AcquireLock(ctx context.Context, scope, owner string) error {
	ok, err := c.rdb.SetNX(ctx, lockKey(scope), owner, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		holder, _ := c.rdb.Get(ctx, lockKey(scope)).Result()
		return fmt.Errorf("%w: %s", ErrLockHeld, holder)
	}
	return nil
}

var (
	refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RefreshLock extends the lock if owner still holds it. The owner check and
// the expiry update run as one script.
func (c *Client) RefreshLock(ctx context.Context, scope, owner string) error {
	n, err := refreshLockScript.Run(ctx, c.rdb, []string{lockKey(scope)}, owner, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lock failed: %w", err)
	}
	if n == 0 {
		holder, _ := c.rdb.Get(ctx, lockKey(scope)).Result()
		return fmt.Errorf("%w: %q", ErrLockHeld, holder)
	}
	return nil
}

// ReleaseLock drops the lock if owner still holds it. A lock that expired
// or passed to another owner is left alone.
func (c *Client) ReleaseLock(ctx context.Context, scope, owner string) error {
	if err := releaseLockScript.Run(ctx, c.rdb, []string{lockKey(scope)}, owner).Err(); err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}

func encodeStatuses(statuses []domain.NetworkStatus) (map[string]any, error) {
	fields := make(map[string]any, len(statuses))
	for _, s := range statuses {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode status of %s: %w", s.Network, err)
		}
		fields[s.Network] = string(data)
	}
	return fields, nil
}

func decodeStatuses(fields map[string]string) ([]domain.NetworkStatus, error) {
	out := make([]domain.NetworkStatus, 0, len(fields))
	for network, data := range fields {
		var s domain.NetworkStatus
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("decode status of %s: %w", network, err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Network < out[j].Network })
	return out, nil
}
