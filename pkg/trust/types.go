// Package trust implements evidence-weighted, time-decayed, multi-dimensional
// trust scoring for entities observed by an evaluator. Profiles are derived
// state: they are recomputed from evidence on demand and cached briefly, never
// edited directly.
package trust

import (
	"time"
)

// Dimension names one of the five orthogonal trust facets.
type Dimension string

const (
	DimReliability  Dimension = "reliability"
	DimCompetence   Dimension = "competence"
	DimIntegrity    Dimension = "integrity"
	DimBenevolence  Dimension = "benevolence"
	DimTransparency Dimension = "transparency"
)

// Dimensions holds the five per-facet scores, each clamped to [0,100].
// The zero value is NOT a valid profile; use NeutralDimensions.
type Dimensions struct {
	Reliability  float64 `json:"reliability"`
	Competence   float64 `json:"competence"`
	Integrity    float64 `json:"integrity"`
	Benevolence  float64 `json:"benevolence"`
	Transparency float64 `json:"transparency"`
}

// NeutralDimensions is the prior for any unseen subject: 50 on every facet.
func NeutralDimensions() Dimensions {
	return Dimensions{
		Reliability:  50,
		Competence:   50,
		Integrity:    50,
		Benevolence:  50,
		Transparency: 50,
	}
}

// Get returns the named dimension's value (0 for unknown names).
func (d Dimensions) Get(name Dimension) float64 {
	switch name {
	case DimReliability:
		return d.Reliability
	case DimCompetence:
		return d.Competence
	case DimIntegrity:
		return d.Integrity
	case DimBenevolence:
		return d.Benevolence
	case DimTransparency:
		return d.Transparency
	}
	return 0
}

// overallWeights is the fixed blend of dimensions into the overall score.
// Must sum to 1.
var overallWeights = map[Dimension]float64{
	DimReliability:  0.25,
	DimCompetence:   0.20,
	DimIntegrity:    0.25,
	DimBenevolence:  0.20,
	DimTransparency: 0.10,
}

// EvidenceType tags a piece of trust evidence with its semantic meaning.
type EvidenceType string

const (
	EvidencePromiseKept           EvidenceType = "PROMISE_KEPT"
	EvidencePromiseBroken         EvidenceType = "PROMISE_BROKEN"
	EvidenceHelpfulAction         EvidenceType = "HELPFUL_ACTION"
	EvidenceHarmfulAction         EvidenceType = "HARMFUL_ACTION"
	EvidenceHonestDisclosure      EvidenceType = "HONEST_DISCLOSURE"
	EvidenceDeceptionDetected     EvidenceType = "DECEPTION_DETECTED"
	EvidenceTaskCompleted         EvidenceType = "TASK_COMPLETED"
	EvidenceTaskFailed            EvidenceType = "TASK_FAILED"
	EvidenceConsistentBehavior    EvidenceType = "CONSISTENT_BEHAVIOR"
	EvidenceInconsistentBehavior  EvidenceType = "INCONSISTENT_BEHAVIOR"
	EvidenceCommunityContribution EvidenceType = "COMMUNITY_CONTRIBUTION"
	EvidenceCommunityHarm         EvidenceType = "COMMUNITY_HARM"
	EvidenceVerifiedIdentity      EvidenceType = "VERIFIED_IDENTITY"
	EvidenceSuspiciousActivity    EvidenceType = "SUSPICIOUS_ACTIVITY"
	EvidenceSecurityViolation     EvidenceType = "SECURITY_VIOLATION"
	EvidenceSpamBehavior          EvidenceType = "SPAM_BEHAVIOR"
)

// ImpactTemplate is the semantic meaning of one evidence type: a signed base
// impact plus a sparse per-dimension delta.
type ImpactTemplate struct {
	Base       float64
	Dimensions map[Dimension]float64
}

// impactTemplates is the single source of semantic meaning for all evidence.
// It is exhaustive over the EvidenceType enumeration and is the primary
// extension point for new evidence kinds.
var impactTemplates = map[EvidenceType]ImpactTemplate{
	EvidencePromiseKept:           {Base: 10, Dimensions: map[Dimension]float64{DimReliability: 15, DimIntegrity: 10}},
	EvidencePromiseBroken:         {Base: -15, Dimensions: map[Dimension]float64{DimReliability: -20, DimIntegrity: -15}},
	EvidenceHelpfulAction:         {Base: 8, Dimensions: map[Dimension]float64{DimBenevolence: 12, DimCompetence: 8}},
	EvidenceHarmfulAction:         {Base: -20, Dimensions: map[Dimension]float64{DimBenevolence: -25, DimIntegrity: -15}},
	EvidenceHonestDisclosure:      {Base: 12, Dimensions: map[Dimension]float64{DimTransparency: 18, DimIntegrity: 10}},
	EvidenceDeceptionDetected:     {Base: -25, Dimensions: map[Dimension]float64{DimIntegrity: -30, DimTransparency: -20}},
	EvidenceTaskCompleted:         {Base: 10, Dimensions: map[Dimension]float64{DimCompetence: 15, DimReliability: 10}},
	EvidenceTaskFailed:            {Base: -8, Dimensions: map[Dimension]float64{DimCompetence: -12, DimReliability: -8}},
	EvidenceConsistentBehavior:    {Base: 5, Dimensions: map[Dimension]float64{DimReliability: 10}},
	EvidenceInconsistentBehavior:  {Base: -10, Dimensions: map[Dimension]float64{DimReliability: -15, DimTransparency: -8}},
	EvidenceCommunityContribution: {Base: 12, Dimensions: map[Dimension]float64{DimBenevolence: 15, DimCompetence: 8}},
	EvidenceCommunityHarm:         {Base: -18, Dimensions: map[Dimension]float64{DimBenevolence: -22, DimIntegrity: -12}},
	EvidenceVerifiedIdentity:      {Base: 15, Dimensions: map[Dimension]float64{DimTransparency: 15, DimIntegrity: 10}},
	EvidenceSuspiciousActivity:    {Base: -15, Dimensions: map[Dimension]float64{DimIntegrity: -15, DimTransparency: -12, DimReliability: -8}},
	EvidenceSecurityViolation:     {Base: -25, Dimensions: map[Dimension]float64{DimIntegrity: -35, DimReliability: -20}},
	EvidenceSpamBehavior:          {Base: -12, Dimensions: map[Dimension]float64{DimBenevolence: -10, DimReliability: -12, DimTransparency: -8}},
}

// Template returns the impact template for an evidence type. Unknown types
// return ok=false and are skipped by the scoring fold (malformed external
// evidence must degrade, not crash).
func Template(t EvidenceType) (ImpactTemplate, bool) {
	tpl, ok := impactTemplates[t]
	return tpl, ok
}

// Evidence is one immutable, timestamped observation about a subject.
type Evidence struct {
	Type           EvidenceType `json:"type"`
	Timestamp      time.Time    `json:"timestamp"`
	Impact         float64      `json:"impact"` // [-100,100]
	Weight         float64      `json:"weight"` // [0,1]
	Description    string       `json:"description,omitempty"`
	ReportedBy     string       `json:"reported_by,omitempty"`
	TargetEntityID string       `json:"target_entity_id"`
	Verified       bool         `json:"verified"`
	Context        string       `json:"context,omitempty"`
	EvaluatorID    string       `json:"evaluator_id"`
}

// Interaction is the input event used to record new evidence.
type Interaction struct {
	SourceEntityID string       `json:"source_entity_id"`
	TargetEntityID string       `json:"target_entity_id"`
	Type           EvidenceType `json:"type"`
	Timestamp      time.Time    `json:"timestamp"`
	Impact         float64      `json:"impact"`
	Details        string       `json:"details,omitempty"`
	Context        string       `json:"context,omitempty"`
}

// TrendDirection is the sign of recent score movement.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trend describes score movement across recent snapshots.
type Trend struct {
	Direction    TrendDirection `json:"direction"`
	ChangeRate   float64        `json:"change_rate"` // points per day
	LastChangeAt time.Time      `json:"last_change_at"`
}

// Profile is the derived trust state for one (evaluator, subject) pair.
type Profile struct {
	EntityID         string     `json:"entity_id"`
	EvaluatorID      string     `json:"evaluator_id"`
	Dimensions       Dimensions `json:"dimensions"`
	OverallTrust     int        `json:"overall_trust"` // [0,100]
	Confidence       float64    `json:"confidence"`    // [0,1]
	InteractionCount int        `json:"interaction_count"`
	Evidence         []Evidence `json:"evidence"` // most recent, bounded
	LastCalculated   time.Time  `json:"last_calculated"`
	Trend            Trend      `json:"trend"`
}

// Snapshot is a historical record of an overall score, kept for trend
// analysis (up to 10 most recent per pair).
type Snapshot struct {
	OverallTrust int       `json:"overall_trust"`
	At           time.Time `json:"at"`
}

// Requirements expresses a policy the subject's profile must satisfy.
// Zero-valued fields mean "no constraint"; nil Dimensions likewise.
type Requirements struct {
	MinimumTrust        int                   `json:"minimum_trust"`
	Dimensions          map[Dimension]float64 `json:"dimensions,omitempty"`
	MinimumInteractions int                   `json:"minimum_interactions"`
	MinimumConfidence   float64               `json:"minimum_confidence"`
}

// Decision is the outcome of evaluating Requirements against a profile.
type Decision struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
	Profile     *Profile `json:"profile,omitempty"`
}

// Context narrows which evidence is visible for a calculation.
type Context struct {
	WorldID string        `json:"world_id,omitempty"`
	RoomID  string        `json:"room_id,omitempty"`
	Window  time.Duration `json:"window,omitempty"` // 0 = all history
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
