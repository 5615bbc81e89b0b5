// Package bus implements the Room Event Bus's cross-pod transport: a Redis
// pub/sub channel per meeting that lets realtime.Room instances running on
// different processes fan signaling/chat/presence events out to each
// other's local WebSocket connections. internal/v1/realtime owns the
// in-process fan-out (one Room per meeting, one process); this package is
// only the wire between Rooms on separate pods.
package bus

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

// PubSubPayload is the envelope carried on a meeting's Redis channel.
type PubSubPayload struct {
	MeetingID string          `json:"meetingId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	// SenderID lets a subscribing pod recognize (and skip re-delivering)
	// its own publish echoed back by Redis: if SenderID names a user
	// connected to that pod's own copy of the room, that pod's Room already
	// delivered the event locally when it first produced it.
	SenderID string `json:"senderId"`
}

// Service owns the Redis connection backing the room event bus.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client (used by the health checker).
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to Redis and verifies connectivity immediately.
func NewService(addr, password string) (*Service, error) {
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
		return nil, fmt.Errorf("failed to connect to redis bus: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "bus",
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
			metrics.CircuitBreakerState.WithLabelValues("bus").Set(stateVal)
		},
	}

	slog.Info("connected to redis room event bus", "addr", addr)
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func meetingChannel(meetingID string) string {
	return fmt.Sprintf("meetgrid:meeting:%s", meetingID)
}

// Publish fans an event out to every other pod subscribed to meetingID's
// channel. A nil Service, or an open circuit breaker, degrades to a silent
// no-op: single-instance deployments and Redis outages both just lose
// cross-pod fan-out, not the local room.
func (s *Service) Publish(ctx context.Context, meetingID, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal bus payload: %w", err)
		}
		data, err := json.Marshal(PubSubPayload{MeetingID: meetingID, Event: event, Payload: raw, SenderID: senderID})
		if err != nil {
			return nil, fmt.Errorf("marshal bus envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, meetingChannel(meetingID), data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("bus").Inc()
			slog.Warn("bus circuit breaker open, dropping publish", "meetingId", meetingID)
			return nil
		}
		slog.Error("bus publish failed", "meetingId", meetingID, "event", event, "error", err)
		return err
	}
	return nil
}

// Subscribe starts a background goroutine relaying messages from meetingID's
// channel to handler until ctx is cancelled. A nil Service is a no-op so
// callers don't need to special-case single-instance mode.
func (s *Service) Subscribe(ctx context.Context, meetingID string, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, meetingChannel(meetingID))
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("failed to unmarshal bus message", "error", err)
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping verifies Redis connectivity; used by the readiness check.
func (s *Service) Ping(ctx context.Context) error {
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
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
