// Package cluster holds the shared-store-backed collaborators of the
// composite router: the cluster registry (room/user/node mapping) and the
// cluster bus (pub/sub membership deltas, targeted signals, heartbeats).
// Both sit on top of Store, a thin go-redis wrapper guarded by a circuit
// breaker so a struggling shared store degrades callers instead of hanging
// them.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/avalonrtc/signalmesh/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Store wraps a go-redis client with the circuit breaker and metrics
// instrumentation shared by every shared-store call. It implements the
// HSET/HGET/HDEL/HGETALL/HEXISTS, SET EX and PUBLISH primitives the shared
// coordinator needs. SUBSCRIBE is not wrapped: Bus subscribes through
// Client() directly.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewStore dials addr (a redis:// URL) and verifies connectivity with an
// immediate ping.
func NewStore(addr string) (*Store, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid shared store address: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to shared store: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "shared_store",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("shared_store").Set(v)
		},
	}

	return &Store{client: client, cb: gobreaker.NewCircuitBreaker(settings)}, nil
}

// Client exposes the underlying go-redis client for Bus, which needs a raw
// Subscribe that doesn't fit the breaker-wrapped request/response shape of
// the operations below.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies shared-store connectivity; the health monitor calls this
// every 5 seconds to drive the degraded-mode flag.
func (s *Store) Ping(ctx context.Context) error {
	return s.execute(ctx, "ping", func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
}

// HSet sets field within hash to value.
func (s *Store) HSet(ctx context.Context, hash, field, value string) error {
	return s.execute(ctx, "hset", func() (any, error) {
		return nil, s.client.HSet(ctx, hash, field, value).Err()
	})
}

// HGet reads field from hash. Returns ("", false, nil) when absent.
func (s *Store) HGet(ctx context.Context, hash, field string) (string, bool, error) {
	var value string
	var found bool
	err := s.execute(ctx, "hget", func() (any, error) {
		v, err := s.client.HGet(ctx, hash, field).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		value, found = v, true
		return nil, nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// HDel removes field from hash.
func (s *Store) HDel(ctx context.Context, hash, field string) error {
	return s.execute(ctx, "hdel", func() (any, error) {
		return nil, s.client.HDel(ctx, hash, field).Err()
	})
}

// HGetAll reads every field of hash.
func (s *Store) HGetAll(ctx context.Context, hash string) (map[string]string, error) {
	var out map[string]string
	err := s.execute(ctx, "hgetall", func() (any, error) {
		v, err := s.client.HGetAll(ctx, hash).Result()
		out = v
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HExists reports whether field is present in hash.
func (s *Store) HExists(ctx context.Context, hash, field string) (bool, error) {
	var exists bool
	err := s.execute(ctx, "hexists", func() (any, error) {
		v, err := s.client.HExists(ctx, hash, field).Result()
		exists = v
		return nil, err
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// SetWithTTL sets key to value with an expiry of ttl.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.execute(ctx, "set", func() (any, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
}

// Publish broadcasts payload on channel.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	return s.execute(ctx, "publish", func() (any, error) {
		return nil, s.client.Publish(ctx, channel, payload).Err()
	})
}

// execute runs op behind the circuit breaker, recording duration and
// outcome metrics, and translating an open breaker into a plain error so
// callers fall back uniformly regardless of why the store is unavailable.
func (s *Store) execute(ctx context.Context, op string, fn func() (any, error)) error {
	start := time.Now()
	_, err := s.cb.Execute(fn)
	metrics.SharedStoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.CircuitBreakerFailures.WithLabelValues("shared_store").Inc()
		}
		metrics.SharedStoreOperationsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	metrics.SharedStoreOperationsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}
