package detect

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TrustMeshAI/bastion/pkg/audit"
	"github.com/TrustMeshAI/bastion/pkg/behavior"
	"github.com/TrustMeshAI/bastion/pkg/patterns"
	"github.com/TrustMeshAI/bastion/pkg/trust"
)

// Config assembles the detection engine. Sink is required; every other
// layer is optional and the engine degrades to regex heuristics without
// them.
type Config struct {
	Sink        audit.Sink
	Profiler    *behavior.Profiler
	Evaluator   Evaluator
	Semantic    *SemanticIndex
	TrustEngine *trust.Engine

	// EvaluatorTimeout bounds one evaluator call (default 30s).
	EvaluatorTimeout time.Duration
}

// Engine runs the detectors and fans confirmed detections out to the audit
// sink and, when attached, the trust engine.
type Engine struct {
	registry    *patterns.Registry
	profiler    *behavior.Profiler
	sink        audit.Sink
	evaluator   Evaluator
	semantic    *SemanticIndex
	trustEngine *trust.Engine
	evalTimeout time.Duration
}

// NewEngine wires the detection engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("detect: audit sink is required")
	}
	if cfg.Profiler == nil {
		cfg.Profiler = behavior.NewProfiler()
	}
	if cfg.EvaluatorTimeout == 0 {
		cfg.EvaluatorTimeout = 30 * time.Second
	}
	return &Engine{
		registry:    patterns.Get(),
		profiler:    cfg.Profiler,
		sink:        cfg.Sink,
		evaluator:   cfg.Evaluator,
		semantic:    cfg.Semantic,
		trustEngine: cfg.TrustEngine,
		evalTimeout: cfg.EvaluatorTimeout,
	}, nil
}

// Profiler exposes the behavioral history for the multi-party detectors.
func (e *Engine) Profiler() *behavior.Profiler { return e.profiler }

// StoreMessage records one inbound message into the behavioral history.
func (e *Engine) StoreMessage(entityID, content string, ts time.Time) {
	e.profiler.StoreMessage(entityID, content, ts)
}

// StoreAction records one non-message action into the behavioral history.
func (e *Engine) StoreAction(entityID, action string, ts time.Time) {
	e.profiler.StoreAction(entityID, action, ts)
}

// DetectPromptInjection analyzes one message for instruction-override
// attempts. A ready evaluator is authoritative: its verdict is returned
// unmodified, and an evaluator failure fails safe with a medium
// verification check rather than letting the message through unexamined.
// Without one the engine layers legitimate-context suppression, the
// compiled regex set, a vocabulary fallback and the optional semantic
// index.
func (e *Engine) DetectPromptInjection(ctx context.Context, entityID, message string, evalCtx map[string]string) *SecurityCheck {
	if e.evaluator != nil && e.evaluator.IsReady() {
		evalCtxT, cancel := context.WithTimeout(ctx, e.evalTimeout)
		check, err := e.evaluator.Evaluate(evalCtxT, message, evalCtx)
		cancel()
		if err != nil {
			log.Printf("[WARN] evaluator failed, failing safe: %v", err)
			failSafe := &SecurityCheck{
				Detected:   true,
				Confidence: 0.5,
				Type:       EventPromptInjection,
				Severity:   audit.SeverityMedium,
				Action:     ActionRequireVerification,
				Details:    map[string]string{"reason": "evaluator unavailable"},
			}
			e.logSecurityEvent(ctx, entityID, failSafe)
			return failSafe
		}
		if check.Detected {
			e.logSecurityEvent(ctx, entityID, check)
		}
		return check
	}

	benign := &SecurityCheck{Type: EventPromptInjection, Action: ActionAllow}

	// Known-good phrasings ("I forgot my password...") are cleared before
	// any expensive layer runs.
	if e.registry.MatchAny(message, patterns.CategoryLegitimate) != nil {
		return benign
	}

	if matched := e.registry.MatchAll(message, patterns.CategoryInjection); len(matched) > 0 {
		names := make([]string, len(matched))
		for i, p := range matched {
			names[i] = p.Name
		}
		check := &SecurityCheck{
			Detected:   true,
			Confidence: math.Min(0.9+0.05*float64(len(matched)), 1.0),
			Type:       EventPromptInjection,
			Severity:   audit.SeverityHigh,
			Action:     ActionBlock,
			Details:    map[string]string{"patterns": strings.Join(names, ",")},
		}
		if len(matched) > 2 {
			check.Severity = audit.SeverityCritical
		}
		e.logSecurityEvent(ctx, entityID, check)
		return check
	}

	// Coarse vocabulary fallback for messages that dodge the regexes but
	// are saturated with system-manipulation terms.
	lower := strings.ToLower(message)
	vocabHits := 0
	for _, term := range patterns.SuspiciousVocabulary {
		if strings.Contains(lower, term) {
			vocabHits++
		}
	}
	if score := math.Min(1.0, 0.2*float64(vocabHits)); score > 0.8 {
		check := &SecurityCheck{
			Detected:   true,
			Confidence: score,
			Type:       EventPromptInjection,
			Severity:   audit.SeverityMedium,
			Action:     ActionRequireVerification,
			Details:    map[string]string{"vocabulary_hits": fmt.Sprintf("%d", vocabHits)},
		}
		e.logSecurityEvent(ctx, entityID, check)
		return check
	}

	if e.semantic.IsReady() {
		match, err := e.semantic.Query(ctx, message)
		if err != nil {
			log.Printf("[WARN] semantic index query failed: %v", err)
		} else if match.IsThreat {
			check := &SecurityCheck{
				Detected:   true,
				Confidence: float64(match.Score),
				Type:       EventPromptInjection,
				Severity:   audit.SeverityMedium,
				Action:     ActionRequireVerification,
				Details:    map[string]string{"category": match.Category, "matched": match.MatchedText},
			}
			switch match.Category {
			case "instruction_override", "data_exfil", "jailbreak":
				check.Severity = audit.SeverityHigh
				check.Action = ActionBlock
			}
			e.logSecurityEvent(ctx, entityID, check)
			return check
		}
	}

	return benign
}

// DetectSocialEngineering scores one message against the manipulation
// factor lexicon. Scores above 0.7 block, above 0.4 require verification.
func (e *Engine) DetectSocialEngineering(ctx context.Context, entityID, message string) *SecurityCheck {
	lower := strings.ToLower(message)

	weighted := 0.0
	var active []string
	for factor, phrases := range patterns.ManipulationPhrases {
		hits := 0
		for _, phrase := range phrases {
			if strings.Contains(lower, phrase) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := math.Min(1.0, 0.5*float64(hits))
		weighted += patterns.ManipulationWeights[factor] * score
		active = append(active, string(factor))
	}

	check := &SecurityCheck{
		Type:       EventSocialEngineering,
		Confidence: weighted,
	}
	switch {
	case weighted > 0.7:
		check.Detected = true
		check.Severity = audit.SeverityHigh
		check.Action = ActionBlock
		if weighted > 0.85 {
			check.Severity = audit.SeverityCritical
		}
	case weighted > 0.4:
		check.Detected = true
		check.Severity = audit.SeverityMedium
		check.Action = ActionRequireVerification
	default:
		check.Action = ActionAllow
		return check
	}

	check.Details = map[string]string{"factors": strings.Join(active, ",")}
	e.logSecurityEvent(ctx, entityID, check)
	return check
}

// AssessThreatLevel folds the entity's last 24 hours of security events
// into one level.
func (e *Engine) AssessThreatLevel(ctx context.Context, entityID string) *ThreatAssessment {
	events := e.sink.Query(time.Now().Add(-24*time.Hour), audit.Filter{EntityID: entityID})

	assessment := &ThreatAssessment{
		EntityID:   entityID,
		EventCount: len(events),
		Breakdown:  make(map[string]int),
	}

	critical, high := 0, 0
	for _, ev := range events {
		assessment.Breakdown[ev.Type]++
		switch ev.Severity {
		case audit.SeverityCritical:
			critical++
		case audit.SeverityHigh:
			high++
		}
	}

	assessment.Score = math.Min(0.1*float64(len(events))+0.3*float64(critical)+0.15*float64(high), 1.0)

	switch {
	case len(events) == 0:
		assessment.Level = "none"
		assessment.Recommended = ActionMonitor
	case assessment.Score > 0.8:
		assessment.Level = "critical"
		assessment.Recommended = ActionBlock
	case assessment.Score > 0.6:
		assessment.Level = "high"
		assessment.Recommended = ActionBlock
	case assessment.Score > 0.3:
		assessment.Level = "medium"
		assessment.Recommended = ActionRequireVerification
	default:
		assessment.Level = "low"
		assessment.Recommended = ActionMonitor
	}

	return assessment
}

// logSecurityEvent records a confirmed detection to the audit sink and
// converts it into trust evidence when a trust engine is attached.
func (e *Engine) logSecurityEvent(ctx context.Context, entityID string, check *SecurityCheck) {
	ev := audit.Event{
		ID:        uuid.NewString(),
		Type:      check.Type,
		EntityID:  entityID,
		Severity:  check.Severity,
		Context:   check.Details,
		Details:   fmt.Sprintf("confidence=%.2f action=%s", check.Confidence, check.Action),
		Timestamp: time.Now(),
	}
	e.sink.Record(ev)
	e.logTrustImpact(ctx, entityID, check)
}

// logTrustImpact is a no-op without a trust engine.
func (e *Engine) logTrustImpact(ctx context.Context, entityID string, check *SecurityCheck) {
	if e.trustEngine == nil {
		return
	}
	evidenceType, ok := evidenceFor(check.Type)
	if !ok {
		return
	}
	err := e.trustEngine.RecordInteraction(ctx, trust.Interaction{
		SourceEntityID: e.trustEngine.EvaluatorID(),
		TargetEntityID: entityID,
		Type:           evidenceType,
		Timestamp:      time.Now(),
		Details:        check.Type,
	})
	if err != nil {
		log.Printf("[WARN] recording trust impact for %s: %v", entityID, err)
	}
}
