// Package cache wraps Redis key/value, hash, and presence-set operations in
// the same circuit-breaker-guarded, graceful-degradation shape as
// internal/v1/bus, so callers never have to special-case "Redis is down":
// degraded calls return documented zero values instead of errors.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/meetgrid/backend/internal/v1/metrics"
)

// OnlineTTL is how long a presence entry survives without a refresh.
const OnlineTTL = time.Hour

// Store wraps a Redis client with a breaker for presence sets, hashes, and
// general key/value caching. It has no rate-limit counter operation.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewStore connects to Redis and verifies connectivity immediately.
func NewStore(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis cache: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("cache").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis cache", "addr", addr)
	return &Store{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Client exposes the underlying Redis client for callers (e.g. the health
// checker) that need the raw connection.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func (s *Store) degraded(op string, err error) bool {
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("cache").Inc()
		slog.Warn("Cache circuit breaker open, degrading", "op", op)
		return true
	}
	return false
}

// Set stores value (JSON-encoded) under key with the given TTL. A zero TTL
// means no expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal cache value: %w", err)
		}
		return nil, s.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		if s.degraded("set", err) {
			return nil
		}
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Get loads key into dest. Returns (false, nil) on a cache miss or when the
// breaker is open, so callers fall through to the authoritative store.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		if s.degraded("get", err) {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(res.([]byte), dest); err != nil {
		return false, fmt.Errorf("unmarshal cache value %s: %w", key, err)
	}
	return true, nil
}

// Del removes one or more keys. Best-effort: errors degrade to a no-op.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil || len(keys) == 0 {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	if err != nil && !s.degraded("del", err) {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// AddOnlineUser marks userID present for OnlineTTL, refreshing the expiry on
// every call so an active user never falls out of the presence set.
func (s *Store) AddOnlineUser(ctx context.Context, meetingID, userID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	key := presenceKey(meetingID)
	_, err := s.cb.Execute(func() (interface{}, error) {
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, key, userID)
		pipe.Expire(ctx, key, OnlineTTL)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil && !s.degraded("add_online_user", err) {
		return fmt.Errorf("cache add online user: %w", err)
	}
	return nil
}

// RemoveOnlineUser clears presence for userID in meetingID.
func (s *Store) RemoveOnlineUser(ctx context.Context, meetingID, userID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, presenceKey(meetingID), userID).Err()
	})
	if err != nil && !s.degraded("remove_online_user", err) {
		return fmt.Errorf("cache remove online user: %w", err)
	}
	return nil
}

// GetOnlineUsers lists present user IDs for meetingID. Degrades to an empty
// slice rather than an error: presence is a display affordance, not a
// correctness-critical property.
func (s *Store) GetOnlineUsers(ctx context.Context, meetingID string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, presenceKey(meetingID)).Result()
	})
	if err != nil {
		if s.degraded("get_online_users", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get online users: %w", err)
	}
	return res.([]string), nil
}

func presenceKey(meetingID string) string {
	return fmt.Sprintf("meetgrid:presence:%s", meetingID)
}

// HSet stores field/value pairs (JSON-encoded) in the hash at key.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]any) error {
	if s == nil || s.client == nil || len(fields) == 0 {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		encoded := make(map[string]any, len(fields))
		for field, value := range fields {
			data, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("marshal hash field %s: %w", field, err)
			}
			encoded[field] = data
		}
		return nil, s.client.HSet(ctx, key, encoded).Err()
	})
	if err != nil && !s.degraded("hset", err) {
		return fmt.Errorf("cache hset %s: %w", key, err)
	}
	return nil
}

// HDel removes one or more fields from the hash at key.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if s == nil || s.client == nil || len(fields) == 0 {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.HDel(ctx, key, fields...).Err()
	})
	if err != nil && !s.degraded("hdel", err) {
		return fmt.Errorf("cache hdel %s: %w", key, err)
	}
	return nil
}

// HGetAll loads every field of the hash at key, JSON-decoding each value into
// a json.RawMessage so callers can unmarshal into whatever type that field
// holds. Degrades to an empty map rather than an error.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]json.RawMessage, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		if s.degraded("hgetall", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache hgetall %s: %w", key, err)
	}
	raw := res.(map[string]string)
	out := make(map[string]json.RawMessage, len(raw))
	for field, value := range raw {
		out[field] = json.RawMessage(value)
	}
	return out, nil
}

// DelByPattern deletes every key matching a glob pattern (e.g.
// "meetgrid:presence:*"). It scans rather than calling KEYS, so it stays
// safe to run against a large keyspace without blocking other clients.
func (s *Store) DelByPattern(ctx context.Context, pattern string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return nil, err
			}
			if len(keys) > 0 {
				if err := s.client.Del(ctx, keys...).Err(); err != nil {
					return nil, err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		return nil, nil
	})
	if err != nil && !s.degraded("del_by_pattern", err) {
		return fmt.Errorf("cache del by pattern %s: %w", pattern, err)
	}
	return nil
}

// Ping verifies Redis connectivity; used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err != gobreaker.ErrOpenState {
		return err
	}
	return nil
}

// Close shuts down the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
