package trust

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	eng, err := NewEngine("evaluator-1", store, EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, store
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine("", NewMemoryStore(), EngineConfig{}); err == nil {
		t.Error("expected error for empty evaluator id")
	}
	if _, err := NewEngine("eval", nil, EngineConfig{}); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestUnknownEntityIsNeutral(t *testing.T) {
	eng, _ := newTestEngine(t)

	p, err := eng.CalculateTrust(context.Background(), "stranger", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if p.OverallTrust != 50 {
		t.Errorf("overall = %d, want 50", p.OverallTrust)
	}
	if p.Dimensions != NeutralDimensions() {
		t.Errorf("dimensions = %+v, want all-50 neutral", p.Dimensions)
	}
	if p.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 with no evidence", p.Confidence)
	}
	if p.InteractionCount != 0 {
		t.Errorf("interaction count = %d, want 0", p.InteractionCount)
	}
}

func TestSecurityViolationLowersIntegrity(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	err := eng.RecordInteraction(ctx, Interaction{
		SourceEntityID: "evaluator-1",
		TargetEntityID: "mallory",
		Type:           EvidenceSecurityViolation,
		Impact:         -25,
	})
	if err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	eng.InvalidateProfile("mallory")
	p, err := eng.CalculateTrust(ctx, "mallory", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if p.OverallTrust >= 50 {
		t.Errorf("overall = %d, want < 50 after security violation", p.OverallTrust)
	}
	if p.Dimensions.Integrity >= 50 {
		t.Errorf("integrity = %.1f, want < 50 after security violation", p.Dimensions.Integrity)
	}
	t.Logf("post-violation profile: overall=%d integrity=%.1f", p.OverallTrust, p.Dimensions.Integrity)
}

func TestScoresStayClamped(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if err := eng.RecordInteraction(ctx, Interaction{
			TargetEntityID: "repeat-offender",
			Type:           EvidenceDeceptionDetected,
		}); err != nil {
			t.Fatalf("RecordInteraction: %v", err)
		}
	}
	eng.InvalidateProfile("repeat-offender")
	low, err := eng.CalculateTrust(ctx, "repeat-offender", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if low.OverallTrust < 0 || low.OverallTrust > 100 {
		t.Errorf("overall = %d, want within [0,100]", low.OverallTrust)
	}
	for _, dim := range []Dimension{DimReliability, DimCompetence, DimIntegrity, DimBenevolence, DimTransparency} {
		if v := low.Dimensions.Get(dim); v < 0 || v > 100 {
			t.Errorf("%s = %.1f, want within [0,100]", dim, v)
		}
	}

	for i := 0; i < 30; i++ {
		if err := eng.RecordInteraction(ctx, Interaction{
			TargetEntityID: "model-citizen",
			Type:           EvidenceHonestDisclosure,
		}); err != nil {
			t.Fatalf("RecordInteraction: %v", err)
		}
	}
	eng.InvalidateProfile("model-citizen")
	high, err := eng.CalculateTrust(ctx, "model-citizen", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if high.OverallTrust > 100 {
		t.Errorf("overall = %d, want <= 100", high.OverallTrust)
	}
	if high.Dimensions.Transparency > 100 {
		t.Errorf("transparency = %.1f, want <= 100", high.Dimensions.Transparency)
	}
}

func TestCalculateTrustCaches(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.CalculateTrust(ctx, "cached", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}

	// Evidence added after the calculation is invisible until the cache is
	// invalidated; the patched fast path goes through RecordInteraction only.
	second, err := eng.CalculateTrust(ctx, "cached", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if first.OverallTrust != second.OverallTrust {
		t.Errorf("cached result changed: %d vs %d", first.OverallTrust, second.OverallTrust)
	}
	if !first.LastCalculated.Equal(second.LastCalculated) {
		t.Errorf("cached result recalculated: %v vs %v", first.LastCalculated, second.LastCalculated)
	}
}

func TestRecordInteractionPatchesCachedProfile(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CalculateTrust(ctx, "live", Context{}); err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if err := eng.RecordInteraction(ctx, Interaction{
		TargetEntityID: "live",
		Type:           EvidenceSecurityViolation,
	}); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	p, err := eng.CalculateTrust(ctx, "live", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if p.OverallTrust != 25 {
		t.Errorf("patched overall = %d, want 25 (50 - 25 base impact)", p.OverallTrust)
	}
	if p.InteractionCount != 1 {
		t.Errorf("interaction count = %d, want 1", p.InteractionCount)
	}
}

func TestConcurrentScoringAndRecording(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if _, err := eng.CalculateTrust(ctx, "busy", Context{}); err != nil {
					t.Errorf("CalculateTrust: %v", err)
					return
				}
				if err := eng.RecordInteraction(ctx, Interaction{
					TargetEntityID: "busy",
					Type:           EvidencePromiseKept,
				}); err != nil {
					t.Errorf("RecordInteraction: %v", err)
					return
				}
				eng.InvalidateProfile("busy")
			}
		}()
	}
	wg.Wait()

	p, err := eng.CalculateTrust(ctx, "busy", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if p.OverallTrust < 0 || p.OverallTrust > 100 {
		t.Errorf("overall = %d, want within [0,100]", p.OverallTrust)
	}
}

func TestRecordInteractionRequiresTarget(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.RecordInteraction(context.Background(), Interaction{Type: EvidencePromiseKept}); err == nil {
		t.Error("expected error for missing target entity")
	}
}

func TestConfidenceNeedsMinimumEvidence(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := eng.RecordInteraction(ctx, Interaction{
			TargetEntityID: "thin-history",
			Type:           EvidenceTaskCompleted,
		}); err != nil {
			t.Fatalf("RecordInteraction: %v", err)
		}
	}
	eng.InvalidateProfile("thin-history")
	p, err := eng.CalculateTrust(ctx, "thin-history", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if p.Confidence != 0 {
		t.Errorf("confidence = %v with 2 items, want 0 below minimum of 3", p.Confidence)
	}

	if err := eng.RecordInteraction(ctx, Interaction{
		TargetEntityID: "thin-history",
		Type:           EvidenceTaskCompleted,
	}); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	eng.InvalidateProfile("thin-history")
	p, err = eng.CalculateTrust(ctx, "thin-history", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if p.Confidence <= 0 {
		t.Errorf("confidence = %v with 3 items, want > 0", p.Confidence)
	}
}

func TestAgeWeightDecaysMonotonically(t *testing.T) {
	eng, _ := newTestEngine(t)

	ages := []time.Duration{0, 24 * time.Hour, 7 * 24 * time.Hour, 30 * 24 * time.Hour}
	prev := eng.ageWeight(ages[0])
	for _, age := range ages[1:] {
		w := eng.ageWeight(age)
		if w >= prev {
			t.Errorf("weight at age %v = %.4f, want < %.4f", age, w, prev)
		}
		prev = w
	}

	// Very old evidence asymptotes to half the residual weight, never zero.
	ancient := eng.ageWeight(365 * 24 * time.Hour)
	if ancient <= 0.14 || ancient >= 0.16 {
		t.Errorf("ancient weight = %.4f, want near 0.15 floor", ancient)
	}
}

func TestVerifiedEvidenceWeighsMore(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()

	base := Evidence{
		Type:           EvidencePromiseKept,
		Timestamp:      now,
		Impact:         10,
		Weight:         1.0,
		TargetEntityID: "unverified",
		EvaluatorID:    "evaluator-1",
	}
	if err := store.AppendEvidence(ctx, base); err != nil {
		t.Fatalf("AppendEvidence: %v", err)
	}

	verified := base
	verified.TargetEntityID = "verified"
	verified.Verified = true
	if err := store.AppendEvidence(ctx, verified); err != nil {
		t.Fatalf("AppendEvidence: %v", err)
	}

	pu, err := eng.CalculateTrust(ctx, "unverified", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	pv, err := eng.CalculateTrust(ctx, "verified", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if pv.Dimensions.Reliability <= pu.Dimensions.Reliability {
		t.Errorf("verified reliability %.1f, want > unverified %.1f",
			pv.Dimensions.Reliability, pu.Dimensions.Reliability)
	}
}

func TestContextWindowFiltersOldEvidence(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	old := Evidence{
		Type:           EvidenceSecurityViolation,
		Timestamp:      time.Now().Add(-72 * time.Hour),
		Impact:         -25,
		Weight:         1.0,
		TargetEntityID: "reformed",
		EvaluatorID:    "evaluator-1",
	}
	if err := store.AppendEvidence(ctx, old); err != nil {
		t.Fatalf("AppendEvidence: %v", err)
	}

	windowed, err := eng.CalculateTrust(ctx, "reformed", Context{Window: 24 * time.Hour})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if windowed.OverallTrust != 50 {
		t.Errorf("windowed overall = %d, want neutral 50 with violation outside window", windowed.OverallTrust)
	}

	eng.InvalidateProfile("reformed")
	full, err := eng.CalculateTrust(ctx, "reformed", Context{})
	if err != nil {
		t.Fatalf("CalculateTrust: %v", err)
	}
	if full.OverallTrust >= 50 {
		t.Errorf("full-history overall = %d, want < 50", full.OverallTrust)
	}
}

func TestGetRecentInteractions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		if err := eng.RecordInteraction(ctx, Interaction{
			TargetEntityID: "chatty",
			Type:           EvidenceHelpfulAction,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			Details:        string(rune('a' + i)),
		}); err != nil {
			t.Fatalf("RecordInteraction: %v", err)
		}
	}

	recent := eng.GetRecentInteractions("chatty", 3)
	if len(recent) != 3 {
		t.Fatalf("got %d interactions, want 3", len(recent))
	}
	if recent[0].Details != "e" {
		t.Errorf("first entry = %q, want newest %q", recent[0].Details, "e")
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Timestamp.After(recent[i-1].Timestamp) {
			t.Errorf("entries not newest-first at index %d", i)
		}
	}

	if got := eng.GetRecentInteractions("nobody", 10); len(got) != 0 {
		t.Errorf("unknown entity returned %d interactions, want 0", len(got))
	}
}

func TestEvaluateTrustDecision(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		req        Requirements
		allowed    bool
		wantReason string
	}{
		{
			name:       "overall below minimum",
			req:        Requirements{MinimumTrust: 75},
			allowed:    false,
			wantReason: "below required",
		},
		{
			name:       "dimension below minimum",
			req:        Requirements{Dimensions: map[Dimension]float64{DimIntegrity: 80}},
			allowed:    false,
			wantReason: "integrity score",
		},
		{
			name:       "interaction count below minimum",
			req:        Requirements{MinimumInteractions: 5},
			allowed:    false,
			wantReason: "interaction count",
		},
		{
			name:       "confidence below minimum",
			req:        Requirements{MinimumConfidence: 0.5},
			allowed:    false,
			wantReason: "confidence",
		},
		{
			name:       "all requirements met",
			req:        Requirements{MinimumTrust: 40},
			allowed:    true,
			wantReason: "all trust requirements met",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := eng.EvaluateTrustDecision(ctx, "neutral-subject", tt.req, Context{})
			if err != nil {
				t.Fatalf("EvaluateTrustDecision: %v", err)
			}
			if d.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v (reason: %s)", d.Allowed, tt.allowed, d.Reason)
			}
			if !strings.Contains(d.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to contain %q", d.Reason, tt.wantReason)
			}
			if !d.Allowed && len(d.Suggestions) == 0 {
				t.Error("denial carried no suggestions")
			}
			if d.Profile == nil {
				t.Error("decision returned no profile")
			}
		})
	}
}

func TestDefaultImpactFromTemplate(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	if err := eng.RecordInteraction(ctx, Interaction{
		TargetEntityID: "templated",
		Type:           EvidencePromiseBroken,
	}); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	evidence, err := store.LoadEvidence(ctx, "templated", Filter{})
	if err != nil {
		t.Fatalf("LoadEvidence: %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("got %d evidence items, want 1", len(evidence))
	}
	if evidence[0].Impact != -15 {
		t.Errorf("impact = %v, want template base -15", evidence[0].Impact)
	}
}

func BenchmarkCalculateTrust(b *testing.B) {
	store := NewMemoryStore()
	eng, err := NewEngine("bench", store, EngineConfig{})
	if err != nil {
		b.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 50; i++ {
		_ = store.AppendEvidence(ctx, Evidence{
			Type:           EvidenceTaskCompleted,
			Timestamp:      now.Add(-time.Duration(i) * time.Hour),
			Impact:         10,
			Weight:         1.0,
			TargetEntityID: "subject",
			EvaluatorID:    "bench",
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		eng.InvalidateProfile("subject")
		if _, err := eng.CalculateTrust(ctx, "subject", Context{}); err != nil {
			b.Fatal(err)
		}
	}
}
