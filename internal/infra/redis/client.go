package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

// Client wraps Redis operations for the inconclusive-candidate log.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration. An empty URL disables Redis.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func inconclusiveKey(runID string) string {
	return fmt.Sprintf("vaultprobe:inconclusive:%s", runID)
}

func reasonKey(runID string) string {
	return fmt.Sprintf("vaultprobe:inconclusive:%s:reasons", runID)
}

// AddInconclusive records a candidate that was advanced past without a
// confirmed answer. Members are scored by candidate so reads come back in order.
func (c *Client) AddInconclusive(
	ctx context.Context,
	runID string,
	candidate domain.Candidate,
	reason string,
	ttl time.Duration,
) error {
	key := inconclusiveKey(runID)
	member := candidate.String()

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(candidate), Member: member})
	pipe.HSet(ctx, reasonKey(runID), member, reason)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
		pipe.Expire(ctx, reasonKey(runID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record inconclusive %s: %w", member, err)
	}
	return nil
}

// Inconclusive returns the recorded candidates for a run in ascending order.
func (c *Client) Inconclusive(ctx context.Context, runID string) ([]domain.Candidate, error) {
	members, err := c.rdb.ZRange(ctx, inconclusiveKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]domain.Candidate, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil {
			return nil, fmt.Errorf("invalid member %q: %w", m, err)
		}
		out = append(out, domain.Candidate(n))
	}
	return out, nil
}

// Reason returns why a candidate was recorded.
func (c *Client) Reason(ctx context.Context, runID string, candidate domain.Candidate) (string, error) {
	val, err := c.rdb.HGet(ctx, reasonKey(runID), candidate.String()).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// ClearInconclusive removes a run's log.
func (c *Client) ClearInconclusive(ctx context.Context, runID string) error {
	return c.rdb.Del(ctx, inconclusiveKey(runID), reasonKey(runID)).Err()
}

// InconclusiveLog binds a Client to one run.
type InconclusiveLog struct {
	client *Client
	runID  string
	ttl    time.Duration
}

// NewInconclusiveLog creates a run-scoped log.
func NewInconclusiveLog(client *Client, runID string, ttl time.Duration) *InconclusiveLog {
	return &InconclusiveLog{client: client, runID: runID, ttl: ttl}
}

// Record stores candidate with reason.
func (l *InconclusiveLog) Record(ctx context.Context, candidate domain.Candidate, reason string) error {
	return l.client.AddInconclusive(ctx, l.runID, candidate, reason, l.ttl)
}
