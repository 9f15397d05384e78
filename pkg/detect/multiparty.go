package detect

// Multi-party detectors correlate history across entities: sockpuppet
// clusters, credential theft, phishing campaigns, lookalike identities, and
// synchronized action bursts. Each returns nil when nothing crosses its
// threshold.

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/TrustMeshAI/bastion/pkg/audit"
	"github.com/TrustMeshAI/bastion/pkg/behavior"
	"github.com/TrustMeshAI/bastion/pkg/patterns"
)

// multiAccountThreshold is the mean similarity above which a set of
// accounts is flagged as one operator.
const multiAccountThreshold = 0.7

// syncWindow is how close two cross-entity actions must land to count as
// synchronized.
const syncWindow = 5 * time.Second

// DetectMultiAccountPattern compares behavioral fingerprints across the
// given entities. Three pairwise signals (typing speed, message-length
// distribution, shared phrase habits) and a group-wide action-timestamp
// synchronization score are averaged into one confidence.
func (e *Engine) DetectMultiAccountPattern(ctx context.Context, entityIDs []string) *SecurityCheck {
	if len(entityIDs) < 2 {
		return nil
	}

	profiles := make([]*behavior.Profile, len(entityIDs))
	for i, id := range entityIDs {
		profiles[i] = e.profiler.GetProfile(id)
	}

	typing, length, phrase := 0.0, 0.0, 0.0
	pairs := 0
	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			typing += ratioSimilarity(profiles[i].TypingSpeed, profiles[j].TypingSpeed)
			length += ratioSimilarity(profiles[i].MessageLength.Mean, profiles[j].MessageLength.Mean)
			phrase += phraseOverlap(profiles[i].CommonPhrases, profiles[j].CommonPhrases)
			pairs++
		}
	}
	n := float64(pairs)
	avg := (typing/n + length/n + phrase/n + e.actionSync(entityIDs)) / 4
	if avg <= multiAccountThreshold {
		return nil
	}

	check := &SecurityCheck{
		Detected:   true,
		Confidence: avg,
		Type:       EventMultiAccount,
		Severity:   audit.SeverityHigh,
		Action:     ActionRequireVerification,
		Details: map[string]string{
			"entities":   strings.Join(entityIDs, ","),
			"similarity": fmt.Sprintf("%.2f", avg),
		},
	}
	for _, id := range entityIDs {
		e.logSecurityEvent(ctx, id, check)
	}
	return check
}

// actionSync counts cross-entity action pairs landing within syncWindow of
// each other over the last 24 hours, normalized by n·(n−1)·3 for n entities
// and capped at 1.
func (e *Engine) actionSync(entityIDs []string) float64 {
	actions := make([][]behavior.Action, len(entityIDs))
	for i, id := range entityIDs {
		actions[i] = e.profiler.RecentActions(id, 24*time.Hour)
	}

	near := 0
	for i := 0; i < len(actions); i++ {
		for j := i + 1; j < len(actions); j++ {
			for _, a := range actions[i] {
				for _, b := range actions[j] {
					d := a.Timestamp.Sub(b.Timestamp)
					if d < 0 {
						d = -d
					}
					if d <= syncWindow {
						near++
					}
				}
			}
		}
	}

	n := float64(len(entityIDs))
	return math.Min(float64(near)/(n*(n-1)*3), 1)
}

func ratioSimilarity(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	return 1 - math.Abs(a-b)/math.Max(a, b)
}

func phraseOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	inter := 0
	for _, p := range b {
		if _, ok := set[p]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// DetectCredentialTheft flags messages that ask for secrets. A hit needs
// both a credential pattern and a request verb: naming a password is fine,
// asking someone to send one is not.
func (e *Engine) DetectCredentialTheft(ctx context.Context, entityID, message string) *SecurityCheck {
	matched := e.registry.MatchAll(message, patterns.CategoryCredential)
	if len(matched) == 0 {
		return nil
	}

	lower := strings.ToLower(message)
	hasVerb := false
	for _, verb := range patterns.RequestVerbs {
		if strings.Contains(lower, verb) {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return nil
	}

	names := make([]string, len(matched))
	for i, p := range matched {
		names[i] = p.Name
	}
	check := &SecurityCheck{
		Detected:   true,
		Confidence: math.Min(0.8+0.1*float64(len(matched)), 1.0),
		Type:       EventCredentialTheft,
		Severity:   audit.SeverityCritical,
		Action:     ActionBlock,
		Details:    map[string]string{"patterns": strings.Join(names, ",")},
	}
	e.logSecurityEvent(ctx, entityID, check)
	return check
}

// DetectPhishing scans the entity's recent messages for a phishing
// campaign: three or more messages carrying lure language or suspicious
// links. A detected campaign carries the extracted link strings and a
// campaign ID for cross-referencing in the audit log.
func (e *Engine) DetectPhishing(ctx context.Context, entityID string) *SecurityCheck {
	msgs := e.profiler.RecentMessages(entityID, 0)

	hits := 0
	var urls []string
	for _, m := range msgs {
		if e.registry.MatchAny(m.Content, patterns.CategoryPhishing, patterns.CategorySuspiciousLink) == nil {
			continue
		}
		hits++
		urls = append(urls, patterns.URLPattern.FindAllString(m.Content, -1)...)
	}
	if hits < 3 {
		return nil
	}

	check := &SecurityCheck{
		Detected:   true,
		Confidence: math.Min(0.6+0.1*float64(hits), 1.0),
		Type:       EventPhishingCampaign,
		Severity:   audit.SeverityHigh,
		Action:     ActionBlock,
		Details: map[string]string{
			"campaign_id":   uuid.NewString(),
			"message_count": fmt.Sprintf("%d", hits),
		},
	}
	if len(urls) > 0 {
		check.Details["urls"] = strings.Join(urls, " ")
	}
	e.logSecurityEvent(ctx, entityID, check)
	return check
}

// impersonationThreshold is the visual similarity above which a display name
// counts as a lookalike of a trusted name.
const impersonationThreshold = 0.8

// timingComponent stands in for behavioral timing correlation until enough
// history exists to compare activity windows.
const timingComponent = 0.5

// DetectImpersonation checks a display name against the trusted names it
// must not imitate. Names are NFKC-normalized and confusable glyphs folded
// before comparison, so "PayPa1" and "РayPal" both collapse onto "paypal".
// An exact match is identity, not impersonation.
func (e *Engine) DetectImpersonation(ctx context.Context, entityID, displayName string, trustedNames []string) *SecurityCheck {
	candidate := foldName(displayName)

	bestScore := 0.0
	bestTarget := ""
	for _, trusted := range trustedNames {
		target := foldName(trusted)
		if candidate == target && displayName == trusted {
			return nil
		}
		score := nameSimilarity(candidate, target)
		if score > bestScore {
			bestScore = score
			bestTarget = trusted
		}
	}
	if bestScore <= impersonationThreshold {
		return nil
	}

	check := &SecurityCheck{
		Detected:   true,
		Confidence: (bestScore + timingComponent) / 2,
		Type:       EventImpersonation,
		Severity:   audit.SeverityHigh,
		Action:     ActionRequireVerification,
		Details: map[string]string{
			"display_name": displayName,
			"imitates":     bestTarget,
			"visual_score": fmt.Sprintf("%.2f", bestScore),
		},
	}
	e.logSecurityEvent(ctx, entityID, check)
	return check
}

func foldName(name string) string {
	folded := norm.NFKC.String(name)
	folded = patterns.FoldConfusables(folded)
	return strings.ToLower(strings.TrimSpace(folded))
}

// nameSimilarity is normalized Levenshtein similarity in [0,1].
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := math.Max(float64(len(a)), float64(len(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/longest
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

const (
	// coordinationBucket is the window actions are bucketed into.
	coordinationBucket = time.Minute

	// coordinationParticipation is the fraction of entities that must act
	// inside one bucket for it to count as synchronized.
	coordinationParticipation = 0.7

	// coordinationThreshold is the fraction of active buckets that must be
	// synchronized before the group is flagged.
	coordinationThreshold = 0.5
)

// DetectCoordinatedActivity flags groups whose actions cluster into the
// same minute-wide windows. Looks at the last 24 hours of actions.
func (e *Engine) DetectCoordinatedActivity(ctx context.Context, entityIDs []string) *SecurityCheck {
	if len(entityIDs) < 2 {
		return nil
	}

	// bucket -> set of entities active in it
	buckets := make(map[int64]map[string]struct{})
	for _, id := range entityIDs {
		for _, a := range e.profiler.RecentActions(id, 24*time.Hour) {
			key := a.Timestamp.Unix() / int64(coordinationBucket.Seconds())
			if buckets[key] == nil {
				buckets[key] = make(map[string]struct{})
			}
			buckets[key][id] = struct{}{}
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	required := int(math.Ceil(coordinationParticipation * float64(len(entityIDs))))
	synchronized := 0
	for _, active := range buckets {
		if len(active) >= required {
			synchronized++
		}
	}

	correlation := float64(synchronized) / float64(len(buckets))
	if correlation <= coordinationThreshold {
		return nil
	}

	check := &SecurityCheck{
		Detected:   true,
		Confidence: correlation,
		Type:       EventCoordinatedActivity,
		Severity:   audit.SeverityHigh,
		Action:     ActionRequireVerification,
		Details: map[string]string{
			"entities":             strings.Join(entityIDs, ","),
			"synchronized_windows": fmt.Sprintf("%d", synchronized),
		},
	}
	for _, id := range entityIDs {
		e.logSecurityEvent(ctx, id, check)
	}
	return check
}
