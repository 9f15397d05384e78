// Package patterns is the static detection-rule library for Bastion. All
// regular expressions are compiled once at first use and shared by every
// detector; the registry itself is pure data with no behavior beyond
// matching.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-request
// - DRY: Single source of truth for all detection rules
// - CATEGORIZED: Patterns organized by threat category for targeted scans
package patterns

import (
	"regexp"
	"sync"
)

// Category represents a detection-rule category
type Category string

const (
	// CategoryInjection covers instruction-override and role-hijack phrasings.
	CategoryInjection Category = "injection"

	// CategoryLegitimate covers benign phrasings that look superficially
	// similar to attacks (password resets, security questions, quoted text).
	// A legitimate match suppresses injection detection.
	CategoryLegitimate Category = "legitimate"

	// CategoryCredential covers requests for secrets and credentials.
	CategoryCredential Category = "credential"

	// CategoryPhishing covers phishing campaign indicators.
	CategoryPhishing Category = "phishing"

	// CategorySuspiciousLink covers link heuristics (shorteners, IP-literal
	// hosts, known exfiltration services).
	CategorySuspiciousLink Category = "suspicious_link"
)

// Pattern holds a compiled regex with metadata
type Pattern struct {
	Name        string         // Human-readable name for logging
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Category    Category       // Threat category
	Severity    int            // Risk score contribution (0-100)
	Description string         // What this pattern detects
}

// Registry holds all compiled patterns, organized by category
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category][]*Pattern
	all        []*Pattern
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry (singleton).
// Thread-safe and guaranteed to be initialized.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

func newRegistry() *Registry {
	r := &Registry{
		byCategory: make(map[Category][]*Pattern),
		all:        make([]*Pattern, 0, 64),
	}

	r.registerInjectionPatterns()
	r.registerLegitimatePatterns()
	r.registerCredentialPatterns()
	r.registerPhishingPatterns()
	r.registerSuspiciousLinkPatterns()

	return r
}

// register adds a pattern to the registry (internal use only)
func (r *Registry) register(name string, pattern string, category Category, severity int, description string) {
	compiled := regexp.MustCompile(pattern)
	p := &Pattern{
		Name:        name,
		Regex:       compiled,
		Category:    category,
		Severity:    severity,
		Description: description,
	}

	r.byCategory[category] = append(r.byCategory[category], p)
	r.all = append(r.all, p)
}

// GetByCategory returns all patterns for a specific category.
// Returns empty slice if category not found (never nil).
func (r *Registry) GetByCategory(cat Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchAny checks if text matches any pattern in the given categories.
// Returns the first matching pattern or nil; optimized for early exit.
func (r *Registry) MatchAny(text string, cats ...Category) *Pattern {
	for _, cat := range cats {
		for _, p := range r.GetByCategory(cat) {
			if p.Regex.MatchString(text) {
				return p
			}
		}
	}
	return nil
}

// MatchAll returns all patterns that match the text in the given categories.
// Use when the caller needs the full match count for scoring.
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	var matches []*Pattern
	for _, cat := range cats {
		for _, p := range r.GetByCategory(cat) {
			if p.Regex.MatchString(text) {
				matches = append(matches, p)
			}
		}
	}
	return matches
}

// TotalPatterns returns the total count of registered patterns
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// CategoryCount returns the number of patterns in a category
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory[cat])
}

// URLPattern extracts raw link strings from message text, for reporting
// alongside link-heuristic matches.
var URLPattern = regexp.MustCompile(`https?://[^\s<>"')]+`)
