// Package access implements the contextual permission pipeline: an ordered
// sequence of gates (cache, security, role, trust, delegation) producing one
// allow/deny decision per request, plus short-lived permission elevations.
package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/TrustMeshAI/bastion/pkg/detect"
	"github.com/TrustMeshAI/bastion/pkg/trust"
)

// Role is a contextual role an entity holds in a world.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleNone   Role = "NONE"
)

// privilegedRoles pass the role gate outright. This is a deliberately
// coarse stand-in for a full action/resource role matrix.
var privilegedRoles = map[Role]struct{}{
	RoleOwner: {},
	RoleAdmin: {},
}

// RoleResolver answers contextual role lookups. Implementations live
// outside the core (world registry, IAM service).
type RoleResolver interface {
	Resolve(ctx context.Context, entityID, worldID string) (Role, error)
}

// RoleResolverFunc adapts a function to RoleResolver.
type RoleResolverFunc func(ctx context.Context, entityID, worldID string) (Role, error)

func (f RoleResolverFunc) Resolve(ctx context.Context, entityID, worldID string) (Role, error) {
	return f(ctx, entityID, worldID)
}

// ErrDelegationNotImplemented marks the delegation gate as a conservative
// stub: it always denies, and callers can tell "denied" from "feature
// incomplete".
var ErrDelegationNotImplemented = errors.New("access: delegation matching not implemented, denying conservatively")

// Decision methods.
const (
	MethodRoleBased  = "role-based"
	MethodTrustBased = "trust-based"
	MethodElevated   = "elevated"
	MethodDenied     = "denied"
)

// Request is one access question.
type Request struct {
	EntityID string `json:"entity_id"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	WorldID  string `json:"world_id,omitempty"`
}

// key is the canonical cache serialization of the request.
func (r Request) key() string {
	return r.EntityID + "|" + r.Action + "|" + r.Resource + "|" + r.WorldID
}

// Decision is the pipeline's answer.
type Decision struct {
	Request     Request       `json:"request"`
	Allowed     bool          `json:"allowed"`
	Method      string        `json:"method"`
	Reason      string        `json:"reason"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	TTL         time.Duration `json:"ttl,omitempty"`
	Cached      bool          `json:"cached,omitempty"`
}

// Elevation is a timed grant of one permission beyond baseline access.
type Elevation struct {
	GrantID       string    `json:"grant_id"`
	EntityID      string    `json:"entity_id"`
	Permission    string    `json:"permission"`
	Justification string    `json:"justification,omitempty"`
	WorldID       string    `json:"world_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

const (
	// defaultDecisionTTL caches allowed decisions for 5 minutes.
	defaultDecisionTTL = 5 * time.Minute

	// defaultElevationDuration is the grant lifetime when none is given.
	defaultElevationDuration = 300 * time.Second

	// trustAllowThreshold passes the trust gate.
	trustAllowThreshold = 80

	// trustElevateThreshold grants an elevation.
	trustElevateThreshold = 70
)

// Config assembles the pipeline. TrustEngine and Detector are required;
// Roles may be nil, in which case every entity resolves to RoleNone.
type Config struct {
	TrustEngine *trust.Engine
	Detector    *detect.Engine
	Roles       RoleResolver
	DecisionTTL time.Duration
}

// Controller runs the permission pipeline.
type Controller struct {
	trustEngine *trust.Engine
	detector    *detect.Engine
	roles       RoleResolver
	decisionTTL time.Duration

	// Only allowed decisions are cached. Denials are re-evaluated every
	// time because threat state changes quickly.
	decisions  *gocache.Cache
	elevations *gocache.Cache
}

// NewController wires the pipeline.
func NewController(cfg Config) (*Controller, error) {
	if cfg.TrustEngine == nil {
		return nil, fmt.Errorf("access: trust engine is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("access: detection engine is required")
	}
	if cfg.DecisionTTL == 0 {
		cfg.DecisionTTL = defaultDecisionTTL
	}
	return &Controller{
		trustEngine: cfg.TrustEngine,
		detector:    cfg.Detector,
		roles:       cfg.Roles,
		decisionTTL: cfg.DecisionTTL,
		decisions:   gocache.New(cfg.DecisionTTL, 10*time.Minute),
		elevations:  gocache.New(defaultElevationDuration, time.Minute),
	}, nil
}

// CheckAccess runs the ordered pipeline; the first gate to allow wins. The
// security gate precedes role and trust and cannot be overridden by either.
func (c *Controller) CheckAccess(ctx context.Context, req Request) (*Decision, error) {
	if req.EntityID == "" || req.Action == "" || req.Resource == "" {
		return nil, fmt.Errorf("access: entity, action and resource are required")
	}

	if cached, ok := c.decisions.Get(req.key()); ok {
		d := cached.(Decision)
		d.Cached = true
		return &d, nil
	}

	now := time.Now()
	decision := &Decision{Request: req, EvaluatedAt: now}

	// Security gate. A request whose action/resource phrasing itself trips
	// the injection detector is refused before any privilege is weighed.
	probe := fmt.Sprintf("%s on %s", req.Action, req.Resource)
	if check := c.detector.DetectPromptInjection(ctx, req.EntityID, probe, nil); check.Detected && check.Action == detect.ActionBlock {
		decision.Method = MethodDenied
		decision.Reason = fmt.Sprintf("security gate: %s blocked (%s)", check.Type, joinDetails(check.Details))
		return decision, nil
	}

	var denials []string

	// Elevation gate: an unexpired grant for this permission allows.
	if grant, ok := c.activeElevation(req.EntityID, req.Action, req.WorldID); ok {
		decision.Allowed = true
		decision.Method = MethodElevated
		decision.Reason = fmt.Sprintf("elevation grant %s active until %s", grant.GrantID[:12], grant.ExpiresAt.Format(time.RFC3339))
		c.cacheDecision(req, decision, time.Until(grant.ExpiresAt))
		return decision, nil
	}

	// Role gate.
	role := c.resolveRole(ctx, req.EntityID, req.WorldID)
	if _, privileged := privilegedRoles[role]; privileged {
		decision.Allowed = true
		decision.Method = MethodRoleBased
		decision.Reason = fmt.Sprintf("privileged role %s", role)
		c.cacheDecision(req, decision, c.decisionTTL)
		return decision, nil
	}
	denials = append(denials, fmt.Sprintf("role %s not privileged", role))

	// Trust gate.
	profile, err := c.trustEngine.CalculateTrust(ctx, req.EntityID, trust.Context{WorldID: req.WorldID})
	if err != nil {
		return nil, fmt.Errorf("access: trust lookup: %w", err)
	}
	if profile.OverallTrust > trustAllowThreshold {
		decision.Allowed = true
		decision.Method = MethodTrustBased
		decision.Reason = fmt.Sprintf("trust %d above threshold %d", profile.OverallTrust, trustAllowThreshold)
		c.cacheDecision(req, decision, c.decisionTTL)
		return decision, nil
	}
	denials = append(denials, fmt.Sprintf("trust %d not above %d", profile.OverallTrust, trustAllowThreshold))

	// Delegation gate: stubbed, always denies.
	if err := c.checkDelegation(req); err != nil {
		denials = append(denials, "no matching delegation")
	}

	decision.Method = MethodDenied
	decision.Reason = strings.Join(denials, "; ")
	return decision, nil
}

// HasPermission is the boolean convenience form of CheckAccess. Errors map
// to a deny.
func (c *Controller) HasPermission(ctx context.Context, entityID, action, resource, worldID string) bool {
	decision, err := c.CheckAccess(ctx, Request{EntityID: entityID, Action: action, Resource: resource, WorldID: worldID})
	if err != nil {
		log.Printf("[WARN] access check for %s failed, denying: %v", entityID, err)
		return false
	}
	return decision.Allowed
}

// ElevationRequest asks for a timed permission grant.
type ElevationRequest struct {
	EntityID      string        `json:"entity_id"`
	Permission    string        `json:"permission"`
	Justification string        `json:"justification,omitempty"`
	WorldID       string        `json:"world_id,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

// RequestElevation grants the permission for a bounded window when the
// entity's trust clears the elevation threshold.
func (c *Controller) RequestElevation(ctx context.Context, req ElevationRequest) (*Decision, *Elevation, error) {
	if req.EntityID == "" || req.Permission == "" {
		return nil, nil, fmt.Errorf("access: entity and permission are required")
	}
	if req.Duration == 0 {
		req.Duration = defaultElevationDuration
	}

	now := time.Now()
	decision := &Decision{
		Request:     Request{EntityID: req.EntityID, Action: req.Permission, WorldID: req.WorldID},
		EvaluatedAt: now,
	}

	profile, err := c.trustEngine.CalculateTrust(ctx, req.EntityID, trust.Context{WorldID: req.WorldID})
	if err != nil {
		return nil, nil, fmt.Errorf("access: trust lookup: %w", err)
	}
	if profile.OverallTrust <= trustElevateThreshold {
		decision.Method = MethodDenied
		decision.Reason = fmt.Sprintf("trust %d not above elevation threshold %d", profile.OverallTrust, trustElevateThreshold)
		return decision, nil, nil
	}

	grant := &Elevation{
		GrantID:       elevationID(req.EntityID, req.Permission, req.WorldID),
		EntityID:      req.EntityID,
		Permission:    req.Permission,
		Justification: req.Justification,
		WorldID:       req.WorldID,
		ExpiresAt:     now.Add(req.Duration),
	}
	c.elevations.Set(grant.GrantID, *grant, req.Duration)

	decision.Allowed = true
	decision.Method = MethodElevated
	decision.Reason = fmt.Sprintf("trust %d above elevation threshold %d", profile.OverallTrust, trustElevateThreshold)
	decision.TTL = req.Duration
	return decision, grant, nil
}

// GetElevation returns an unexpired grant by ID.
func (c *Controller) GetElevation(grantID string) (*Elevation, bool) {
	if v, ok := c.elevations.Get(grantID); ok {
		grant := v.(Elevation)
		return &grant, true
	}
	return nil, false
}

func (c *Controller) activeElevation(entityID, permission, worldID string) (*Elevation, bool) {
	return c.GetElevation(elevationID(entityID, permission, worldID))
}

// elevationID derives a stable grant identifier from the request contents.
func elevationID(entityID, permission, worldID string) string {
	sum := sha256.Sum256([]byte(entityID + "|" + permission + "|" + worldID))
	return hex.EncodeToString(sum[:])
}

func (c *Controller) resolveRole(ctx context.Context, entityID, worldID string) Role {
	if c.roles == nil {
		return RoleNone
	}
	role, err := c.roles.Resolve(ctx, entityID, worldID)
	if err != nil {
		log.Printf("[WARN] role lookup for %s in %s failed, treating as none: %v", entityID, worldID, err)
		return RoleNone
	}
	if role == "" {
		return RoleNone
	}
	return role
}

// checkDelegation is the delegation gate stub.
func (c *Controller) checkDelegation(req Request) error {
	return ErrDelegationNotImplemented
}

func (c *Controller) cacheDecision(req Request, d *Decision, ttl time.Duration) {
	if !d.Allowed || ttl <= 0 {
		return
	}
	d.TTL = ttl
	c.decisions.Set(req.key(), *d, ttl)
}

func joinDetails(details map[string]string) string {
	if len(details) == 0 {
		return "no detail"
	}
	parts := make([]string, 0, len(details))
	for k, v := range details {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
