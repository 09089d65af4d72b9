package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotMirrored is returned by Load when no copy exists for the workflow.
var ErrNotMirrored = errors.New("session not mirrored")

const mirrorPrefix = "ehrlogin:session:"

// RedisMirror keeps a read-only copy of each workflow's Session in redis so
// other processes can see which location a user committed. The Controller
// stays the only writer.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisMirror connects to redisURL (redis://host:port/db) and pings it.
func NewRedisMirror(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl, logger: logger}, nil
}

func (m *RedisMirror) key(workflowID string) string {
	return mirrorPrefix + workflowID
}

// Attach mirrors every replacement of ctrl's Session under workflowID. An
// unauthenticated session removes the copy. The returned func detaches.
func (m *RedisMirror) Attach(ctrl *Controller, workflowID string) (func(), error) {
	fn := func(s Session) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var err error
		if s.Authenticated {
			err = m.Store(ctx, workflowID, s)
		} else {
			err = m.Remove(ctx, workflowID)
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("session mirror update failed")
		}
	}
	if err := ctrl.Subscribe(fn); err != nil {
		return nil, fmt.Errorf("subscribe session mirror: %w", err)
	}
	return func() { _ = ctrl.Unsubscribe(fn) }, nil
}

func (m *RedisMirror) Store(ctx context.Context, workflowID string, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(workflowID), data, m.ttl).Err()
}

func (m *RedisMirror) Load(ctx context.Context, workflowID string) (*Session, error) {
	raw, err := m.client.Get(ctx, m.key(workflowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotMirrored
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode mirrored session: %w", err)
	}
	return &s, nil
}

func (m *RedisMirror) Remove(ctx context.Context, workflowID string) error {
	return m.client.Del(ctx, m.key(workflowID)).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
