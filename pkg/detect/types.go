// Package detect implements the adversarial behavior detectors: prompt
// injection, social engineering, and the multi-party patterns (multi-account
// clusters, credential theft, phishing campaigns, impersonation, coordinated
// activity). Detection is layered: fast regex heuristics always run; an
// optional ML evaluator and semantic index refine results when configured.
package detect

import (
	"github.com/TrustMeshAI/bastion/pkg/audit"
	"github.com/TrustMeshAI/bastion/pkg/trust"
)

// Event types emitted by the detectors. These flow into the audit sink and,
// when a trust engine is attached, into trust evidence.
const (
	EventPromptInjection     = "prompt_injection"
	EventSocialEngineering   = "social_engineering"
	EventMultiAccount        = "multi_account"
	EventCredentialTheft     = "credential_theft"
	EventPhishingCampaign    = "phishing_campaign"
	EventImpersonation       = "impersonation"
	EventCoordinatedActivity = "coordinated_activity"
)

// Recommended actions carried on a SecurityCheck.
const (
	ActionBlock               = "block"
	ActionRequireVerification = "require_verification"
	ActionAllow               = "allow"
	ActionLogOnly             = "log_only"
	ActionMonitor             = "monitor"
)

// SecurityCheck is the outcome of one detector run.
type SecurityCheck struct {
	Detected   bool              `json:"detected"`
	Confidence float64           `json:"confidence"`
	Type       string            `json:"type"`
	Severity   audit.Severity    `json:"severity"`
	Action     string            `json:"action"`
	Details    map[string]string `json:"details,omitempty"`
}

// ThreatAssessment aggregates recent security events for one entity into a
// single level.
type ThreatAssessment struct {
	EntityID    string         `json:"entity_id"`
	Level       string         `json:"level"` // none, low, medium, high, critical
	Score       float64        `json:"score"`
	EventCount  int            `json:"event_count"`
	Breakdown   map[string]int `json:"breakdown"`
	Recommended string         `json:"recommended"`
}

// evidenceFor maps a detection event type to the trust evidence type it
// produces. Injection, theft and phishing are hard violations; the pattern
// detectors record suspicion.
func evidenceFor(eventType string) (trust.EvidenceType, bool) {
	switch eventType {
	case EventPromptInjection, EventCredentialTheft, EventPhishingCampaign:
		return trust.EvidenceSecurityViolation, true
	case EventSocialEngineering, EventMultiAccount, EventImpersonation, EventCoordinatedActivity:
		return trust.EvidenceSuspiciousActivity, true
	}
	return "", false
}
