package trust

import (
	"context"
	"sort"
	"sync"
	"time"
)

// maxEvidencePerSubject bounds the retained evidence sequence per subject.
// Older items beyond the bound are dropped, the profile only ever reflects
// the most recent 100 observations.
const maxEvidencePerSubject = 100

// maxSnapshots bounds the historical score snapshots kept for trend analysis.
const maxSnapshots = 10

// Filter narrows evidence loads. Zero values mean "no constraint".
type Filter struct {
	EvaluatorID string
	WorldID     string
	RoomID      string
	Since       time.Time
}

// EvidenceStore is the external persistence boundary for evidence, profiles
// and score snapshots. Implementations must tolerate empty results: a subject
// with no evidence yet is the normal case, never an error.
type EvidenceStore interface {
	// LoadEvidence returns evidence for a subject, oldest first.
	LoadEvidence(ctx context.Context, entityID string, f Filter) ([]Evidence, error)

	// AppendEvidence records one new evidence item for its target entity.
	AppendEvidence(ctx context.Context, ev Evidence) error

	// SaveProfile persists a freshly calculated profile.
	SaveProfile(ctx context.Context, p *Profile) error

	// LoadSnapshots returns up to limit most recent score snapshots for the
	// pair, oldest first.
	LoadSnapshots(ctx context.Context, evaluatorID, entityID string, limit int) ([]Snapshot, error)

	// AppendSnapshot records the overall score at calculation time.
	AppendSnapshot(ctx context.Context, evaluatorID, entityID string, s Snapshot) error
}

// MemoryStore is the in-process EvidenceStore. Suitable for single-node
// deployments and tests; Redis and Postgres stores cover shared deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	evidence  map[string][]Evidence // key: entityID
	profiles  map[string]*Profile   // key: evaluatorID|entityID
	snapshots map[string][]Snapshot // key: evaluatorID|entityID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evidence:  make(map[string][]Evidence),
		profiles:  make(map[string]*Profile),
		snapshots: make(map[string][]Snapshot),
	}
}

func pairKey(evaluatorID, entityID string) string {
	return evaluatorID + "|" + entityID
}

// LoadEvidence returns matching evidence for the subject, oldest first.
func (s *MemoryStore) LoadEvidence(_ context.Context, entityID string, f Filter) ([]Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Evidence
	for _, ev := range s.evidence[entityID] {
		if !matchesFilter(ev, f) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func matchesFilter(ev Evidence, f Filter) bool {
	if f.EvaluatorID != "" && ev.EvaluatorID != f.EvaluatorID {
		return false
	}
	if f.WorldID != "" && ev.Context != "" && ev.Context != f.WorldID {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AppendEvidence appends one item, trimming to the per-subject bound.
func (s *MemoryStore) AppendEvidence(_ context.Context, ev Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.evidence[ev.TargetEntityID], ev)
	if len(list) > maxEvidencePerSubject {
		list = list[len(list)-maxEvidencePerSubject:]
	}
	s.evidence[ev.TargetEntityID] = list
	return nil
}

// SaveProfile stores a copy of the profile.
func (s *MemoryStore) SaveProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.profiles[pairKey(p.EvaluatorID, p.EntityID)] = &cp
	return nil
}

// LoadProfile returns the stored profile for a pair, or nil if absent.
func (s *MemoryStore) LoadProfile(evaluatorID, entityID string) *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[pairKey(evaluatorID, entityID)]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// LoadSnapshots returns up to limit most recent snapshots, oldest first.
func (s *MemoryStore) LoadSnapshots(_ context.Context, evaluatorID, entityID string, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[pairKey(evaluatorID, entityID)]
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	out := make([]Snapshot, len(snaps))
	copy(out, snaps)
	return out, nil
}

// AppendSnapshot records a score snapshot, trimming to the bound.
func (s *MemoryStore) AppendSnapshot(_ context.Context, evaluatorID, entityID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(evaluatorID, entityID)
	snaps := append(s.snapshots[key], snap)
	if len(snaps) > maxSnapshots {
		snaps = snaps[len(snaps)-maxSnapshots:]
	}
	s.snapshots[key] = snaps
	return nil
}

var _ EvidenceStore = (*MemoryStore)(nil)
