package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is an EvidenceStore backed by Postgres, for deployments that
// need durable evidence beyond a cache's lifetime.
//
// Expected schema:
//
//	CREATE TABLE trust_evidence (
//	    id           BIGSERIAL PRIMARY KEY,
//	    entity_id    TEXT        NOT NULL,
//	    evaluator_id TEXT        NOT NULL,
//	    evidence_ts  TIMESTAMPTZ NOT NULL,
//	    payload      JSONB       NOT NULL
//	);
//	CREATE INDEX trust_evidence_entity_idx ON trust_evidence (entity_id, evidence_ts);
//
//	CREATE TABLE trust_profiles (
//	    evaluator_id TEXT        NOT NULL,
//	    entity_id    TEXT        NOT NULL,
//	    payload      JSONB       NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (evaluator_id, entity_id)
//	);
//
//	CREATE TABLE trust_snapshots (
//	    id           BIGSERIAL PRIMARY KEY,
//	    evaluator_id TEXT        NOT NULL,
//	    entity_id    TEXT        NOT NULL,
//	    overall      INT         NOT NULL,
//	    taken_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX trust_snapshots_pair_idx ON trust_snapshots (evaluator_id, entity_id, taken_at);
type PostgresStore struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("trust: pgx pool is required")
	}
	return &PostgresStore{pool: pool, opTimeout: 5 * time.Second}, nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// LoadEvidence returns the most recent evidence for the subject, oldest
// first. Rows that fail to decode are skipped.
func (s *PostgresStore) LoadEvidence(ctx context.Context, entityID string, f Filter) ([]Evidence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM (
			SELECT payload, evidence_ts FROM trust_evidence
			WHERE entity_id = $1
			ORDER BY evidence_ts DESC
			LIMIT $2
		) recent ORDER BY evidence_ts ASC`, entityID, maxEvidencePerSubject)
	if err != nil {
		return nil, fmt.Errorf("trust: postgres evidence load: %w", err)
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var ev Evidence
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		if matchesFilter(ev, f) {
			out = append(out, ev)
		}
	}
	return out, rows.Err()
}

// AppendEvidence inserts one evidence row.
func (s *PostgresStore) AppendEvidence(ctx context.Context, ev Evidence) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("trust: evidence marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trust_evidence (entity_id, evaluator_id, evidence_ts, payload)
		VALUES ($1, $2, $3, $4)`,
		ev.TargetEntityID, ev.EvaluatorID, ev.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("trust: postgres evidence append: %w", err)
	}
	return nil
}

// SaveProfile upserts the derived profile for the pair.
func (s *PostgresStore) SaveProfile(ctx context.Context, p *Profile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("trust: profile marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trust_profiles (evaluator_id, entity_id, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (evaluator_id, entity_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		p.EvaluatorID, p.EntityID, payload, p.LastCalculated)
	if err != nil {
		return fmt.Errorf("trust: postgres profile save: %w", err)
	}
	return nil
}

// LoadSnapshots returns up to limit most recent snapshots, oldest first.
func (s *PostgresStore) LoadSnapshots(ctx context.Context, evaluatorID, entityID string, limit int) ([]Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = maxSnapshots
	}
	rows, err := s.pool.Query(ctx, `
		SELECT overall, taken_at FROM (
			SELECT overall, taken_at FROM trust_snapshots
			WHERE evaluator_id = $1 AND entity_id = $2
			ORDER BY taken_at DESC
			LIMIT $3
		) recent ORDER BY taken_at ASC`, evaluatorID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("trust: postgres snapshot load: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.OverallTrust, &snap.At); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// AppendSnapshot inserts one snapshot row.
func (s *PostgresStore) AppendSnapshot(ctx context.Context, evaluatorID, entityID string, snap Snapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO trust_snapshots (evaluator_id, entity_id, overall, taken_at)
		VALUES ($1, $2, $3, $4)`,
		evaluatorID, entityID, snap.OverallTrust, snap.At)
	if err != nil {
		return fmt.Errorf("trust: postgres snapshot append: %w", err)
	}
	return nil
}

var _ EvidenceStore = (*PostgresStore)(nil)
