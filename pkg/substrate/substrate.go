// Package substrate implements the coordination substrate: a thin wrapper
// over Redis exposing exactly the primitives the rest of galileo needs
// (key/value, sets, lists, hashes, pub/sub and blocking queues). It owns all
// shared state; every other package treats it as the single source of
// truth and keeps, at most, a weak in-memory cache over it.
package substrate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Substrate connection.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// DefaultOptions returns sane connection defaults.
func DefaultOptions() *Options {
	return &Options{
		Host:     "localhost",
		Port:     6379,
		PoolSize: 10,
	}
}

// Substrate is the Redis-backed coordination layer shared by the cluster
// controller, worker daemons, clients, and the experiment daemon.
type Substrate struct {
	client *redis.Client
}

// New dials Redis and verifies connectivity with a bounded ping.
func New(opts *Options) (*Substrate, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("substrate: redis ping failed: %w", err)
	}

	return &Substrate{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Substrate) Close() error {
	return s.client.Close()
}

// Client exposes the underlying redis.Client for packages that need
// primitives not wrapped here (pub/sub subscription objects, pipelines).
func (s *Substrate) Client() *redis.Client {
	return s.client
}

// --- key/value ---

func (s *Substrate) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (s *Substrate) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *Substrate) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// --- hashes (worker label maps) ---

func (s *Substrate) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *Substrate) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	vals := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		vals = append(vals, k, v)
	}
	return s.client.HSet(ctx, key, vals).Err()
}

// --- sets (worker registry, per-worker client sets) ---

func (s *Substrate) SAdd(ctx context.Context, key string, member string) error {
	return s.client.SAdd(ctx, key, member).Err()
}

func (s *Substrate) SRem(ctx context.Context, key string, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *Substrate) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *Substrate) SCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

// --- ordered lists (routing hosts/weights, the experiment queue) ---

func (s *Substrate) LPush(ctx context.Context, key string, values ...string) error {
	return s.client.LPush(ctx, key, toAny(values)...).Err()
}

func (s *Substrate) RPush(ctx context.Context, key string, values ...string) error {
	return s.client.RPush(ctx, key, toAny(values)...).Err()
}

func (s *Substrate) LRange(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

func (s *Substrate) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *Substrate) LSet(ctx context.Context, key string, index int64, value string) error {
	return s.client.LSet(ctx, key, index, value).Err()
}

// LRemoveAt removes the element at the given index by value, matching the
// semantics queue.remove(index) needs (look up by index, then remove by
// value inside a WATCH/MULTI/EXEC transaction so a concurrent RPUSH can't
// shift the element out from under us).
func (s *Substrate) LRemoveAt(ctx context.Context, key string, index int64, retries int) error {
	for attempt := 0; attempt < retries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			items, err := tx.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return err
			}
			if index < 0 || index >= int64(len(items)) {
				return ErrIndexOutOfRange
			}
			target := items[index]
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, key, 1, target)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrCancelConflict
}

// BLPop blocks until an item is available on key or the context is
// cancelled (the caller's shutdown signal).
func (s *Substrate) BLPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	res, err := s.client.BLPop(ctx, timeout, key).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", ErrEmptyPop
	}
	return res[1], nil
}

// --- sorted sets (scored trace records) ---

func (s *Substrate) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// --- pub/sub ---

func (s *Substrate) Publish(ctx context.Context, topic string, message string) error {
	return s.client.Publish(ctx, topic, message).Err()
}

func (s *Substrate) Subscribe(ctx context.Context, topic string) *redis.PubSub {
	return s.client.Subscribe(ctx, topic)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
