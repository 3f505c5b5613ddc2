package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Status is the closed set of task states exposed to clients. "Pending"
// covers both queued and currently-running; a task whose record never
// appeared (or expired) reports Unknown so callers can tell a lost attempt
// from one still in flight.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusUnknown Status = "unknown"
)

// State is the stored bookkeeping for one task
type State struct {
	TaskID    string          `json:"task_id"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store keeps task state in Redis with a TTL, mirroring a result-backend:
// the ingestion side marks PENDING on enqueue, the worker overwrites with
// the terminal state.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore returns a redis-backed task state store
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{client: client, ttl: ttl, logger: logger}
}

// NewClient returns a configured go-redis client registered with the fx
// lifecycle. Connectivity is validated with PING on start.
func NewClient(lc fx.Lifecycle, logger *zap.Logger, addr, password string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("[REDIS CONNECTION FAILED] cannot reach redis at %s: %w", addr, err)
			}
			logger.Info("redis connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", zap.Error(err))
				return err
			}
			logger.Info("redis connection closed")
			return nil
		},
	})

	return client
}

func (s *Store) key(taskID string) string {
	return fmt.Sprintf("ocr:task:%s", taskID)
}

// MarkPending records that a task has been enqueued
func (s *Store) MarkPending(ctx context.Context, taskID string) error {
	return s.set(ctx, State{TaskID: taskID, Status: StatusPending})
}

// MarkSuccess records a successful extraction with its result payload
func (s *Store) MarkSuccess(ctx context.Context, taskID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}
	return s.set(ctx, State{TaskID: taskID, Status: StatusSuccess, Result: payload})
}

// MarkFailure records a failed extraction with its error text
func (s *Store) MarkFailure(ctx context.Context, taskID string, errText string) error {
	return s.set(ctx, State{TaskID: taskID, Status: StatusFailure, Error: errText})
}

func (s *Store) set(ctx context.Context, state State) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal task state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store task state: %w", err)
	}
	return nil
}

// Get returns the bookkeeping for a task. A missing or expired record maps
// to StatusUnknown rather than an error.
func (s *Store) Get(ctx context.Context, taskID string) (State, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return State{TaskID: taskID, Status: StatusUnknown}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read task state: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal task state: %w", err)
	}
	switch state.Status {
	case StatusPending, StatusSuccess, StatusFailure:
		return state, nil
	default:
		// A record written by an unrecognized version still resolves to a
		// state callers can act on.
		state.Status = StatusUnknown
		return state, nil
	}
}
