package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/proctord/internal/domain"
)

const (
	snapshotKeyPrefix = "proctord:session:"
	subjectKeyPrefix  = "proctord:subject:"
	activeSetKey      = "proctord:active"

	// Snapshots outlive the session by this long so dashboards can show the final state.
	defaultSnapshotTTL = 24 * time.Hour
)

// RedisSnapshotSink mirrors the live view of each session into Redis:
// a snapshot document per session, a subject to running-session index and a
// sorted set of running sessions scored by start time.
type RedisSnapshotSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a client for addr/db.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisSnapshotSink creates a sink. ttl <= 0 uses the default of 24h.
func NewRedisSnapshotSink(client *redis.Client, ttl time.Duration) *RedisSnapshotSink {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisSnapshotSink{client: client, ttl: ttl}
}

// Name identifies the sink in logs.
func (s *RedisSnapshotSink) Name() string { return "redis" }

// Publish updates the snapshot and indexes for one event.
func (s *RedisSnapshotSink) Publish(ctx context.Context, event domain.SessionEvent) error {
	val, err := json.Marshal(snapshotFromEvent(event))
	if err != nil {
		return err
	}
	key := snapshotKey(event.SessionID)

	switch event.Kind {
	case domain.SessionStarted:
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.ttl)
			pipe.Set(ctx, subjectKey(event.SubjectID), event.SessionID, s.ttl)
			pipe.ZAdd(ctx, activeSetKey, redis.Z{Score: float64(event.At.Unix()), Member: event.SessionID})
			return nil
		})
		return err

	case domain.SessionEnded:
		if err := s.client.Set(ctx, key, val, s.ttl).Err(); err != nil {
			return err
		}
		if err := s.client.ZRem(ctx, activeSetKey, event.SessionID).Err(); err != nil {
			return err
		}
		return s.clearSubject(ctx, event.SubjectID, event.SessionID)

	default:
		return s.client.Set(ctx, key, val, s.ttl).Err()
	}
}

// clearSubject drops the subject index only if it still points at sessionID;
// a superseding session may already have replaced it.
func (s *RedisSnapshotSink) clearSubject(ctx context.Context, subjectID, sessionID string) error {
	key := subjectKey(subjectID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if current != sessionID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
}

// Snapshot returns the mirrored snapshot, or nil if unknown or expired.
// Refreshes TTL on read.
func (s *RedisSnapshotSink) Snapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	key := snapshotKey(sessionID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", sessionID, err)
	}

	// Refresh TTL on read; failure is not fatal
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &snap, nil
}

// ActiveSessionFor returns the running session of a subject, or "" if none.
func (s *RedisSnapshotSink) ActiveSessionFor(ctx context.Context, subjectID string) (string, error) {
	id, err := s.client.Get(ctx, subjectKey(subjectID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

// ActiveSince lists running sessions started at or after since, oldest first.
func (s *RedisSnapshotSink) ActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, activeSetKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
}

// Close closes the client.
func (s *RedisSnapshotSink) Close() error {
	return s.client.Close()
}

func snapshotFromEvent(event domain.SessionEvent) domain.Snapshot {
	return domain.Snapshot{
		SessionID:       event.SessionID,
		SubjectID:       event.SubjectID,
		Status:          event.Status,
		RiskScore:       event.RiskScore,
		IntegrityStatus: event.IntegrityStatus,
		Stats:           event.Stats,
		UpdatedAt:       event.At,
	}
}

func snapshotKey(sessionID string) string { return snapshotKeyPrefix + sessionID }

func subjectKey(subjectID string) string { return subjectKeyPrefix + subjectID }

var _ domain.EventSink = (*RedisSnapshotSink)(nil)
