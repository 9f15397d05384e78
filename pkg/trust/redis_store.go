package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an EvidenceStore backed by Redis, for deployments where
// several agent processes share one evidence corpus. Evidence and snapshots
// live in capped lists, profiles as JSON values.
//
// Keys:
//
//	bastion:evidence:<entity>              list, newest first, capped at 100
//	bastion:profile:<evaluator>|<entity>   JSON value
//	bastion:snapshots:<evaluator>|<entity> list, oldest first, capped at 10
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

// NewRedisStore wraps an existing client. A nil client is a construction
// error; runtime failures degrade per the EvidenceStore contract.
func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("trust: redis client is required")
	}
	return &RedisStore{rdb: rdb, keyPrefix: "bastion:", opTimeout: 5 * time.Second}, nil
}

func (s *RedisStore) evidenceKey(entityID string) string {
	return s.keyPrefix + "evidence:" + entityID
}

func (s *RedisStore) profileKey(evaluatorID, entityID string) string {
	return s.keyPrefix + "profile:" + pairKey(evaluatorID, entityID)
}

func (s *RedisStore) snapshotKey(evaluatorID, entityID string) string {
	return s.keyPrefix + "snapshots:" + pairKey(evaluatorID, entityID)
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// LoadEvidence returns matching evidence oldest first. Unparseable entries
// (a foreign writer, a partial write) are skipped, never fatal.
func (s *RedisStore) LoadEvidence(ctx context.Context, entityID string, f Filter) ([]Evidence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.rdb.LRange(ctx, s.evidenceKey(entityID), 0, -1).Result()
	if err == redis.Nil || len(raw) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: redis evidence load: %w", err)
	}

	// List is newest first; walk backwards to return oldest first.
	out := make([]Evidence, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev Evidence
		if jsonErr := json.Unmarshal([]byte(raw[i]), &ev); jsonErr != nil {
			continue
		}
		if matchesFilter(ev, f) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// AppendEvidence pushes one item and trims the list to the retention bound.
func (s *RedisStore) AppendEvidence(ctx context.Context, ev Evidence) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("trust: evidence marshal: %w", err)
	}

	key := s.evidenceKey(ev.TargetEntityID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxEvidencePerSubject-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trust: redis evidence append: %w", err)
	}
	return nil
}

// SaveProfile stores the profile JSON with a generous expiry; profiles are
// derived state and can always be recomputed from evidence.
func (s *RedisStore) SaveProfile(ctx context.Context, p *Profile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("trust: profile marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, s.profileKey(p.EvaluatorID, p.EntityID), payload, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("trust: redis profile save: %w", err)
	}
	return nil
}

// LoadSnapshots returns up to limit most recent snapshots, oldest first.
func (s *RedisStore) LoadSnapshots(ctx context.Context, evaluatorID, entityID string, limit int) ([]Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = maxSnapshots
	}
	raw, err := s.rdb.LRange(ctx, s.snapshotKey(evaluatorID, entityID), int64(-limit), -1).Result()
	if err == redis.Nil || len(raw) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: redis snapshot load: %w", err)
	}

	out := make([]Snapshot, 0, len(raw))
	for _, item := range raw {
		var snap Snapshot
		if jsonErr := json.Unmarshal([]byte(item), &snap); jsonErr != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// AppendSnapshot records a score snapshot and trims to the bound.
func (s *RedisStore) AppendSnapshot(ctx context.Context, evaluatorID, entityID string, snap Snapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("trust: snapshot marshal: %w", err)
	}

	key := s.snapshotKey(evaluatorID, entityID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-maxSnapshots), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trust: redis snapshot append: %w", err)
	}
	return nil
}

var _ EvidenceStore = (*RedisStore)(nil)
