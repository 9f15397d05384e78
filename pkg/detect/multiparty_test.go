package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/TrustMeshAI/bastion/pkg/audit"
)

func TestDetectMultiAccountPattern(t *testing.T) {
	eng, sink := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	// Two accounts with identical cadence, vocabulary, hours and phrase
	// habits: one operator.
	for _, id := range []string{"sock-1", "sock-2"} {
		for i := 0; i < 10; i++ {
			eng.StoreMessage(id, "good morning everyone, checking in as usual today", base.Add(time.Duration(i)*time.Minute))
		}
	}

	check := eng.DetectMultiAccountPattern(ctx, []string{"sock-1", "sock-2"})
	if check == nil {
		t.Fatal("identical fingerprints not flagged")
	}
	if check.Action != ActionRequireVerification {
		t.Errorf("action = %q, want %q", check.Action, ActionRequireVerification)
	}
	if check.Confidence <= multiAccountThreshold {
		t.Errorf("confidence = %.2f, want > %.2f", check.Confidence, multiAccountThreshold)
	}

	// Both accounts get the audit trail.
	for _, id := range []string{"sock-1", "sock-2"} {
		if events := sink.Query(time.Time{}, audit.Filter{EntityID: id}); len(events) != 1 {
			t.Errorf("entity %s: got %d audit events, want 1", id, len(events))
		}
	}
}

func TestDetectMultiAccountPatternSynchronizedActions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Hour)

	// Disjoint vocabulary, but identical cadence, identical message
	// lengths, and every action fired in lockstep: typing 1, length 1,
	// phrases 0, synchronization 1, for a mean of 0.75.
	texts := map[string]string{
		"sock-a": "alpha beta gamma delta epsilon zeta eta",
		"sock-b": "nine ruby two opal three jade four onyx",
	}
	for id, text := range texts {
		for i := 0; i < 10; i++ {
			eng.StoreMessage(id, text, base.Add(time.Duration(i)*time.Minute))
		}
	}
	for round := 0; round < 6; round++ {
		at := base.Add(time.Duration(round) * 10 * time.Minute)
		eng.StoreAction("sock-a", "post", at)
		eng.StoreAction("sock-b", "post", at)
	}

	check := eng.DetectMultiAccountPattern(ctx, []string{"sock-a", "sock-b"})
	if check == nil {
		t.Fatal("synchronized accounts with matching length statistics not flagged")
	}
	if check.Confidence <= multiAccountThreshold {
		t.Errorf("confidence = %.2f, want > %.2f", check.Confidence, multiAccountThreshold)
	}
}

func TestDetectMultiAccountPatternDistinctUsers(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	night := time.Date(2026, 8, 27, 23, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		eng.StoreMessage("lark", fmt.Sprintf("detailed standup summary number %d with context", i), day.Add(time.Duration(i)*time.Minute))
		eng.StoreMessage("owl", fmt.Sprintf("gg %d", i), night.Add(time.Duration(i)*time.Minute))
	}

	if check := eng.DetectMultiAccountPattern(ctx, []string{"lark", "owl"}); check != nil {
		t.Errorf("distinct users flagged: %+v", check)
	}
}

func TestDetectMultiAccountPatternNeedsTwoEntities(t *testing.T) {
	eng, _ := newTestEngine(t)
	if check := eng.DetectMultiAccountPattern(context.Background(), []string{"solo"}); check != nil {
		t.Errorf("single entity flagged: %+v", check)
	}
}

func TestDetectCredentialTheft(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		detected bool
	}{
		{
			name:     "password request",
			message:  "hey, can you send me your password real quick",
			detected: true,
		},
		{
			name:     "seed phrase request",
			message:  "dm me your seed phrase so i can help recover the wallet",
			detected: true,
		},
		{
			name:     "credential mention without request",
			message:  "your password should be rotated every quarter",
			detected: false,
		},
		{
			name:     "request verb without credentials",
			message:  "send me the meeting notes when you get a chance",
			detected: false,
		},
		{
			name:     "own password discussion",
			message:  "my password manager keeps crashing",
			detected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _ := newTestEngine(t)
			check := eng.DetectCredentialTheft(context.Background(), "subject", tt.message)
			if (check != nil) != tt.detected {
				t.Fatalf("detected = %v, want %v", check != nil, tt.detected)
			}
			if check == nil {
				return
			}
			if check.Severity != audit.SeverityCritical || check.Action != ActionBlock {
				t.Errorf("severity/action = %q/%q, want critical/block", check.Severity, check.Action)
			}
		})
	}
}

func TestDetectCredentialTheftConfidenceScalesWithPatterns(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	one := eng.DetectCredentialTheft(ctx, "a", "send me your password")
	many := eng.DetectCredentialTheft(ctx, "b", "send your password, private key and seed phrase")
	if one == nil || many == nil {
		t.Fatal("expected both messages to be flagged")
	}
	if many.Confidence <= one.Confidence {
		t.Errorf("confidence %.2f with 3 patterns, want > %.2f with 1", many.Confidence, one.Confidence)
	}
}

func TestDetectPhishing(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	lures := []string{
		"verify your account immediately or lose access",
		"click here to claim your prize",
		"your account has been suspended, act now",
		"check this out http://bit.ly/xyz123",
	}
	for i, lure := range lures {
		eng.StoreMessage("spammer", lure, base.Add(time.Duration(i)*time.Minute))
	}

	check := eng.DetectPhishing(ctx, "spammer")
	if check == nil {
		t.Fatal("campaign not flagged after 4 lure messages")
	}
	if check.Action != ActionBlock {
		t.Errorf("action = %q, want %q", check.Action, ActionBlock)
	}
	if check.Details["campaign_id"] == "" {
		t.Error("campaign id missing")
	}
	if check.Details["message_count"] != "4" {
		t.Errorf("message_count = %q, want 4", check.Details["message_count"])
	}
	if check.Details["urls"] != "http://bit.ly/xyz123" {
		t.Errorf("urls = %q, want the extracted link", check.Details["urls"])
	}
}

func TestDetectPhishingBelowThreshold(t *testing.T) {
	eng, _ := newTestEngine(t)
	base := time.Now().Add(-time.Hour)

	eng.StoreMessage("alice", "verify your account to finish onboarding", base)
	eng.StoreMessage("alice", "lunch tomorrow?", base.Add(time.Minute))
	eng.StoreMessage("alice", "the quarterly deck is ready for review", base.Add(2*time.Minute))

	if check := eng.DetectPhishing(context.Background(), "alice"); check != nil {
		t.Errorf("single lure flagged as a campaign: %+v", check)
	}
}

func TestDetectImpersonation(t *testing.T) {
	trusted := []string{"PayPal", "Coinbase Support"}

	tests := []struct {
		name        string
		displayName string
		detected    bool
		imitates    string
	}{
		{
			name:        "digit confusable",
			displayName: "PayPa1",
			detected:    true,
			imitates:    "PayPal",
		},
		{
			name:        "case and zero confusable",
			displayName: "c0inbase supp0rt",
			detected:    true,
			imitates:    "Coinbase Support",
		},
		{
			name:        "single edit lookalike",
			displayName: "PayPall",
			detected:    true,
			imitates:    "PayPal",
		},
		{
			name:        "exact match is identity",
			displayName: "PayPal",
			detected:    false,
		},
		{
			name:        "unrelated name",
			displayName: "gardening_tips_daily",
			detected:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _ := newTestEngine(t)
			check := eng.DetectImpersonation(context.Background(), "subject", tt.displayName, trusted)
			if (check != nil) != tt.detected {
				t.Fatalf("detected = %v, want %v", check != nil, tt.detected)
			}
			if check == nil {
				return
			}
			if check.Details["imitates"] != tt.imitates {
				t.Errorf("imitates = %q, want %q", check.Details["imitates"], tt.imitates)
			}
			if check.Action != ActionRequireVerification {
				t.Errorf("action = %q, want %q", check.Action, ActionRequireVerification)
			}
		})
	}
}

func TestDetectCoordinatedActivity(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	group := []string{"bot-1", "bot-2", "bot-3"}

	// All three act within the same minute windows.
	base := time.Now().Truncate(time.Minute).Add(-time.Hour)
	for round := 0; round < 5; round++ {
		at := base.Add(time.Duration(round) * 5 * time.Minute)
		for i, id := range group {
			eng.StoreAction(id, "post", at.Add(time.Duration(i)*time.Second))
		}
	}

	check := eng.DetectCoordinatedActivity(ctx, group)
	if check == nil {
		t.Fatal("synchronized group not flagged")
	}
	if check.Confidence <= coordinationThreshold {
		t.Errorf("confidence = %.2f, want > %.2f", check.Confidence, coordinationThreshold)
	}
	if check.Details["synchronized_windows"] != "5" {
		t.Errorf("synchronized_windows = %q, want 5", check.Details["synchronized_windows"])
	}
}

func TestDetectCoordinatedActivityIndependentUsers(t *testing.T) {
	eng, _ := newTestEngine(t)
	base := time.Now().Truncate(time.Minute).Add(-time.Hour)

	eng.StoreAction("alice", "post", base)
	eng.StoreAction("bob", "post", base.Add(10*time.Minute))
	eng.StoreAction("carol", "post", base.Add(20*time.Minute))

	if check := eng.DetectCoordinatedActivity(context.Background(), []string{"alice", "bob", "carol"}); check != nil {
		t.Errorf("independent users flagged: %+v", check)
	}
}

func TestDetectCoordinatedActivityNoHistory(t *testing.T) {
	eng, _ := newTestEngine(t)
	if check := eng.DetectCoordinatedActivity(context.Background(), []string{"ghost-1", "ghost-2"}); check != nil {
		t.Errorf("empty history flagged: %+v", check)
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"paypal", "paypal", 1},
		{"paypal", "paypall", 1 - 1.0/7},
		{"", "", 1},
		{"abc", "xyz", 0},
	}
	for _, tt := range tests {
		if got := nameSimilarity(tt.a, tt.b); got < tt.want-0.001 || got > tt.want+0.001 {
			t.Errorf("nameSimilarity(%q, %q) = %.3f, want %.3f", tt.a, tt.b, got, tt.want)
		}
	}
}
