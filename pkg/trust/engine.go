package trust

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// EngineConfig tunes the scoring math. Zero values take the documented
// defaults; the defaults are the contract other packages rely on.
type EngineConfig struct {
	// DecayRate is the exponential decay constant per day of evidence age.
	DecayRate float64 // default 0.5

	// RecencyBias blends decayed weight against a constant half-weight
	// floor, so very old evidence asymptotes to half-weight, not zero.
	RecencyBias float64 // default 0.7

	// VerifiedMultiplier boosts verified evidence.
	VerifiedMultiplier float64 // default 1.5

	// MinimumEvidenceCount below which confidence is pinned to zero.
	MinimumEvidenceCount int // default 3

	// CacheTTL is how long a calculated profile stays fresh.
	CacheTTL time.Duration // default 5 minutes
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.DecayRate == 0 {
		c.DecayRate = 0.5
	}
	if c.RecencyBias == 0 {
		c.RecencyBias = 0.7
	}
	if c.VerifiedMultiplier == 0 {
		c.VerifiedMultiplier = 1.5
	}
	if c.MinimumEvidenceCount == 0 {
		c.MinimumEvidenceCount = 3
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Engine maintains trust evidence per (evaluator, subject) pair and derives
// profiles from it on demand.
type Engine struct {
	evaluatorID string
	store       EvidenceStore
	cfg         EngineConfig

	// profiles is the short-lived live cache keyed by evaluator|subject.
	profiles *gocache.Cache

	mu           sync.RWMutex
	interactions map[string][]Interaction // append-only per subject
}

// NewEngine creates a trust engine for one evaluator. The store is a hard
// dependency for construction; per-call store failures degrade to a neutral
// profile instead of erroring.
func NewEngine(evaluatorID string, store EvidenceStore, cfg EngineConfig) (*Engine, error) {
	if evaluatorID == "" {
		return nil, fmt.Errorf("trust: evaluator id is required")
	}
	if store == nil {
		return nil, fmt.Errorf("trust: evidence store is required")
	}
	cfg = cfg.withDefaults()
	return &Engine{
		evaluatorID:  evaluatorID,
		store:        store,
		cfg:          cfg,
		profiles:     gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		interactions: make(map[string][]Interaction),
	}, nil
}

// ageWeight returns the multiplicative age adjustment for a piece of
// evidence: recencyBias·exp(−decayRate·ageDays) + (1−recencyBias)·0.5.
// Strictly decreasing in age for recencyBias > 0, asymptoting to half the
// residual weight rather than zero.
func (e *Engine) ageWeight(age time.Duration) float64 {
	ageDays := age.Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return e.cfg.RecencyBias*math.Exp(-e.cfg.DecayRate*ageDays) + (1-e.cfg.RecencyBias)*0.5
}

// CalculateTrust derives the subject's profile from all evidence visible
// under tctx. Results are cached for the configured TTL and persisted to the
// store on every fresh calculation. A missing or failing store yields the
// neutral 50/50 zero-confidence profile, never an error.
func (e *Engine) CalculateTrust(ctx context.Context, entityID string, tctx Context) (*Profile, error) {
	key := pairKey(e.evaluatorID, entityID)
	if cached, ok := e.profiles.Get(key); ok {
		e.mu.RLock()
		cp := *(cached.(*Profile))
		e.mu.RUnlock()
		return &cp, nil
	}

	f := Filter{WorldID: tctx.WorldID, RoomID: tctx.RoomID}
	if tctx.Window > 0 {
		f.Since = time.Now().Add(-tctx.Window)
	}

	evidence, err := e.store.LoadEvidence(ctx, entityID, f)
	if err != nil {
		// Degrade gracefully: an unreadable store is a neutral subject,
		// not a failed calculation.
		log.Printf("[WARN] trust: evidence load failed for %s: %v", entityID, err)
		evidence = nil
	}
	if len(evidence) > maxEvidencePerSubject {
		evidence = evidence[len(evidence)-maxEvidencePerSubject:]
	}

	now := time.Now()
	dims := NeutralDimensions()
	for _, ev := range evidence {
		tpl, ok := Template(ev.Type)
		if !ok {
			// Unknown type tag from an external writer: skip, don't abort.
			continue
		}
		scale := e.ageWeight(now.Sub(ev.Timestamp)) * ev.Weight
		if ev.Verified {
			scale *= e.cfg.VerifiedMultiplier
		}
		applyDeltas(&dims, tpl.Dimensions, scale)
	}

	overall := int(math.Round(overallScore(dims)))
	profile := &Profile{
		EntityID:         entityID,
		EvaluatorID:      e.evaluatorID,
		Dimensions:       dims,
		OverallTrust:     overall,
		Confidence:       e.confidence(evidence, now),
		InteractionCount: len(evidence),
		Evidence:         evidence,
		LastCalculated:   now,
		Trend:            e.trend(ctx, entityID, overall, now),
	}

	if err := e.store.SaveProfile(ctx, profile); err != nil {
		log.Printf("[WARN] trust: profile save failed for %s: %v", entityID, err)
	}
	if err := e.store.AppendSnapshot(ctx, e.evaluatorID, entityID, Snapshot{OverallTrust: overall, At: now}); err != nil {
		log.Printf("[WARN] trust: snapshot save failed for %s: %v", entityID, err)
	}

	// Copy before publishing: once the pointer is in the cache,
	// RecordInteraction may patch it from another goroutine.
	cp := *profile
	e.profiles.SetDefault(key, profile)
	return &cp, nil
}

// applyDeltas folds one evidence item into the dimension scores. Each
// dimension accumulates its full delta and is clamped once per item, so
// application order cannot change the final clamped result beyond float
// tolerance.
func applyDeltas(d *Dimensions, deltas map[Dimension]float64, scale float64) {
	for dim, delta := range deltas {
		v := d.Get(dim) + delta*scale
		setDim(d, dim, clamp(v, 0, 100))
	}
}

func setDim(d *Dimensions, dim Dimension, v float64) {
	switch dim {
	case DimReliability:
		d.Reliability = v
	case DimCompetence:
		d.Competence = v
	case DimIntegrity:
		d.Integrity = v
	case DimBenevolence:
		d.Benevolence = v
	case DimTransparency:
		d.Transparency = v
	}
}

func overallScore(d Dimensions) float64 {
	total := 0.0
	for dim, w := range overallWeights {
		total += d.Get(dim) * w
	}
	return clamp(total, 0, 100)
}

// confidence blends evidence volume, polarity balance, and recency:
// 0.4·min(1,count/20) + 0.3·(1−|pos−neg|/count) + 0.3·recentFraction.
// Below the minimum evidence count it is pinned to zero.
func (e *Engine) confidence(evidence []Evidence, now time.Time) float64 {
	count := len(evidence)
	if count < e.cfg.MinimumEvidenceCount {
		return 0
	}

	pos, neg, recent := 0, 0, 0
	for _, ev := range evidence {
		if ev.Impact >= 0 {
			pos++
		} else {
			neg++
		}
		if now.Sub(ev.Timestamp) <= 7*24*time.Hour {
			recent++
		}
	}

	volume := math.Min(1, float64(count)/20)
	balance := 1 - math.Abs(float64(pos-neg))/float64(count)
	recency := float64(recent) / float64(count)

	return clamp(0.4*volume+0.3*balance+0.3*recency, 0, 1)
}

// trend compares the current score against the oldest of up to 10 recent
// snapshots; below 0.5 points per day the profile counts as stable.
func (e *Engine) trend(ctx context.Context, entityID string, current int, now time.Time) Trend {
	snaps, err := e.store.LoadSnapshots(ctx, e.evaluatorID, entityID, maxSnapshots)
	if err != nil || len(snaps) == 0 {
		return Trend{Direction: TrendStable}
	}

	oldest := snaps[0]
	newest := snaps[len(snaps)-1]

	days := now.Sub(oldest.At).Hours() / 24
	if days < 1.0/24 {
		days = 1.0 / 24 // sub-hour history: avoid rate blowup
	}
	rate := float64(current-oldest.OverallTrust) / days

	dir := TrendStable
	switch {
	case math.Abs(rate) < 0.5:
		dir = TrendStable
	case rate > 0:
		dir = TrendIncreasing
	default:
		dir = TrendDecreasing
	}

	return Trend{Direction: dir, ChangeRate: rate, LastChangeAt: newest.At}
}

// RecordInteraction appends the interaction to the append-only log and the
// evidence store. If a live cached profile exists for the subject it is
// patched in place with a linear delta to the overall score.
//
// This is the fast path: it bypasses the decay/dimension pipeline used by
// CalculateTrust, so a patched profile can diverge from a recomputed one
// until the cache expires. CalculateTrust remains the authoritative path.
func (e *Engine) RecordInteraction(ctx context.Context, in Interaction) error {
	if in.TargetEntityID == "" {
		return fmt.Errorf("trust: interaction target is required")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	impact := in.Impact
	if impact == 0 {
		if tpl, ok := Template(in.Type); ok {
			impact = tpl.Base
		}
	}
	impact = clamp(impact, -100, 100)

	ev := Evidence{
		Type:           in.Type,
		Timestamp:      in.Timestamp,
		Impact:         impact,
		Weight:         1.0,
		Description:    in.Details,
		ReportedBy:     in.SourceEntityID,
		TargetEntityID: in.TargetEntityID,
		Context:        in.Context,
		EvaluatorID:    e.evaluatorID,
	}
	if err := e.store.AppendEvidence(ctx, ev); err != nil {
		log.Printf("[WARN] trust: evidence append failed for %s: %v", in.TargetEntityID, err)
	}

	e.mu.Lock()
	e.interactions[in.TargetEntityID] = append(e.interactions[in.TargetEntityID], in)

	key := pairKey(e.evaluatorID, in.TargetEntityID)
	if cached, ok := e.profiles.Get(key); ok {
		p := cached.(*Profile)
		p.OverallTrust = int(clamp(float64(p.OverallTrust)+impact, 0, 100))
		p.Evidence = append(p.Evidence, ev)
		if len(p.Evidence) > maxEvidencePerSubject {
			p.Evidence = p.Evidence[len(p.Evidence)-maxEvidencePerSubject:]
		}
		p.InteractionCount++
	}
	e.mu.Unlock()

	return nil
}

// GetRecentInteractions returns up to limit most recent interactions for a
// subject, newest first.
func (e *Engine) GetRecentInteractions(entityID string, limit int) []Interaction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries := e.interactions[entityID]
	out := make([]Interaction, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// remediation maps each dimension to a concrete suggestion for raising it.
var remediation = map[Dimension]string{
	DimReliability:  "complete commitments consistently to rebuild reliability",
	DimCompetence:   "demonstrate successful task completion to rebuild competence",
	DimIntegrity:    "avoid policy violations and deceptive behavior to rebuild integrity",
	DimBenevolence:  "contribute positively to the community to rebuild benevolence",
	DimTransparency: "disclose intentions and verify identity to rebuild transparency",
}

// EvaluateTrustDecision computes the subject's profile and checks it against
// the requirements in order: overall trust, named dimensions, interaction
// count, confidence. The first failing check short-circuits with a reason
// and a suggestion keyed to the weakest dimension.
func (e *Engine) EvaluateTrustDecision(ctx context.Context, entityID string, req Requirements, tctx Context) (*Decision, error) {
	profile, err := e.CalculateTrust(ctx, entityID, tctx)
	if err != nil {
		return nil, err
	}

	suggest := []string{remediation[weakestDimension(profile.Dimensions)]}

	if profile.OverallTrust < req.MinimumTrust {
		return &Decision{
			Allowed: false,
			Reason: fmt.Sprintf("overall trust %d below required %d",
				profile.OverallTrust, req.MinimumTrust),
			Suggestions: suggest,
			Profile:     profile,
		}, nil
	}

	for dim, min := range req.Dimensions {
		if got := profile.Dimensions.Get(dim); got < min {
			return &Decision{
				Allowed: false,
				Reason: fmt.Sprintf("%s score %.1f below required %.1f",
					dim, got, min),
				Suggestions: []string{remediation[dim]},
				Profile:     profile,
			}, nil
		}
	}

	if profile.InteractionCount < req.MinimumInteractions {
		return &Decision{
			Allowed: false,
			Reason: fmt.Sprintf("interaction count %d below required %d",
				profile.InteractionCount, req.MinimumInteractions),
			Suggestions: []string{"build interaction history before requesting this access"},
			Profile:     profile,
		}, nil
	}

	if profile.Confidence < req.MinimumConfidence {
		return &Decision{
			Allowed: false,
			Reason: fmt.Sprintf("confidence %.2f below required %.2f",
				profile.Confidence, req.MinimumConfidence),
			Suggestions: []string{"more evidence is needed before this trust level is credible"},
			Profile:     profile,
		}, nil
	}

	return &Decision{Allowed: true, Reason: "all trust requirements met", Profile: profile}, nil
}

func weakestDimension(d Dimensions) Dimension {
	weakest := DimReliability
	lowest := d.Reliability
	for _, dim := range []Dimension{DimCompetence, DimIntegrity, DimBenevolence, DimTransparency} {
		if v := d.Get(dim); v < lowest {
			lowest = v
			weakest = dim
		}
	}
	return weakest
}

// EvaluatorID returns the owning evaluator's identity.
func (e *Engine) EvaluatorID() string {
	return e.evaluatorID
}

// InvalidateProfile drops a cached profile, forcing the next calculation to
// recompute from evidence. Primarily for tests and admin tooling.
func (e *Engine) InvalidateProfile(entityID string) {
	e.profiles.Delete(pairKey(e.evaluatorID, entityID))
}
