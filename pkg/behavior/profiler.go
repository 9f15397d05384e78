// Package behavior builds per-entity behavioral fingerprints from a bounded
// rolling history of messages and actions. Profiles are statistical only:
// typing cadence, length distribution, phrase habits, active hours. They
// exist to let the detection engine compare entities, not to store content
// long-term.
package behavior

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// maxMessages bounds the retained message history per entity.
	maxMessages = 100

	// maxActions bounds the retained action history per entity.
	maxActions = 200

	// maxCommonPhrases bounds the fingerprint's phrase list.
	maxCommonPhrases = 10
)

// Message is one stored inbound message.
type Message struct {
	Content   string
	Timestamp time.Time
}

// Action is one stored non-message action (reaction, join, transfer, ...).
type Action struct {
	Name      string
	Timestamp time.Time
}

// LengthStats summarizes the message length distribution.
type LengthStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Profile is the behavioral fingerprint of one entity.
type Profile struct {
	EntityID             string         `json:"entity_id"`
	TypingSpeed          float64        `json:"typing_speed"` // chars per minute
	VocabularyComplexity float64        `json:"vocabulary_complexity"`
	MessageLength        LengthStats    `json:"message_length"`
	ActiveHours          [24]int        `json:"active_hours"`
	CommonPhrases        []string       `json:"common_phrases"`
	InteractionPatterns  map[string]int `json:"interaction_patterns"`
}

// Profiler owns the message/action history and the fingerprint cache.
type Profiler struct {
	mu       sync.RWMutex
	messages map[string][]Message
	actions  map[string][]Action

	// cache holds built profiles. Entries are replaced when enough new
	// history accumulates; they are never explicitly invalidated.
	cache      map[string]*cachedProfile
	rebuildGap int
}

type cachedProfile struct {
	profile   *Profile
	builtFrom int // message count at build time
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		messages:   make(map[string][]Message),
		actions:    make(map[string][]Action),
		cache:      make(map[string]*cachedProfile),
		rebuildGap: 5,
	}
}

// StoreMessage appends one message to the entity's rolling history.
func (p *Profiler) StoreMessage(entityID, content string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	list := append(p.messages[entityID], Message{Content: content, Timestamp: ts})
	if len(list) > maxMessages {
		list = list[len(list)-maxMessages:]
	}
	p.messages[entityID] = list
}

// StoreAction appends one action to the entity's rolling history.
func (p *Profiler) StoreAction(entityID, name string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	list := append(p.actions[entityID], Action{Name: name, Timestamp: ts})
	if len(list) > maxActions {
		list = list[len(list)-maxActions:]
	}
	p.actions[entityID] = list
}

// RecentMessages returns up to n most recent messages, oldest first.
func (p *Profiler) RecentMessages(entityID string, n int) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.messages[entityID]
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	out := make([]Message, len(list))
	copy(out, list)
	return out
}

// RecentActions returns actions within the window, oldest first.
func (p *Profiler) RecentActions(entityID string, window time.Duration) []Action {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var out []Action
	for _, a := range p.actions[entityID] {
		if window <= 0 || !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// GetProfile returns the entity's fingerprint, rebuilding it lazily when the
// history has grown past the rebuild gap since the cached build.
func (p *Profiler) GetProfile(entityID string) *Profile {
	p.mu.RLock()
	cached, ok := p.cache[entityID]
	msgCount := len(p.messages[entityID])
	p.mu.RUnlock()

	if ok && msgCount-cached.builtFrom < p.rebuildGap {
		return cached.profile
	}

	profile := p.build(entityID)

	p.mu.Lock()
	p.cache[entityID] = &cachedProfile{profile: profile, builtFrom: msgCount}
	p.mu.Unlock()

	return profile
}

func (p *Profiler) build(entityID string) *Profile {
	p.mu.RLock()
	msgs := make([]Message, len(p.messages[entityID]))
	copy(msgs, p.messages[entityID])
	acts := make([]Action, len(p.actions[entityID]))
	copy(acts, p.actions[entityID])
	p.mu.RUnlock()

	profile := &Profile{
		EntityID:            entityID,
		InteractionPatterns: make(map[string]int),
	}

	profile.TypingSpeed = typingSpeed(msgs)
	profile.VocabularyComplexity = vocabularyComplexity(msgs)
	profile.MessageLength = lengthStats(msgs)
	profile.CommonPhrases = commonPhrases(msgs)

	for _, m := range msgs {
		profile.ActiveHours[m.Timestamp.Hour()]++
		profile.InteractionPatterns["message"]++
	}
	for _, a := range acts {
		profile.ActiveHours[a.Timestamp.Hour()]++
		profile.InteractionPatterns[a.Name]++
	}

	return profile
}

// typingSpeed estimates characters per minute from consecutive message
// gaps. Gaps beyond 10 minutes are treated as separate sessions.
func typingSpeed(msgs []Message) float64 {
	const sessionGap = 10 * time.Minute

	totalChars := 0.0
	totalMinutes := 0.0
	for i := 1; i < len(msgs); i++ {
		gap := msgs[i].Timestamp.Sub(msgs[i-1].Timestamp)
		if gap <= 0 || gap > sessionGap {
			continue
		}
		totalChars += float64(len(msgs[i].Content))
		totalMinutes += gap.Minutes()
	}
	if totalMinutes == 0 {
		return 0
	}
	return totalChars / totalMinutes
}

// vocabularyComplexity is the distinct-word ratio scaled by mean word
// length: richer, longer vocabulary scores higher.
func vocabularyComplexity(msgs []Message) float64 {
	seen := make(map[string]struct{})
	totalWords := 0
	totalLen := 0
	for _, m := range msgs {
		for _, w := range strings.Fields(strings.ToLower(m.Content)) {
			seen[w] = struct{}{}
			totalWords++
			totalLen += len(w)
		}
	}
	if totalWords == 0 {
		return 0
	}
	distinctRatio := float64(len(seen)) / float64(totalWords)
	meanWordLen := float64(totalLen) / float64(totalWords)
	return distinctRatio * meanWordLen
}

func lengthStats(msgs []Message) LengthStats {
	if len(msgs) == 0 {
		return LengthStats{}
	}
	sum := 0.0
	for _, m := range msgs {
		sum += float64(len(m.Content))
	}
	mean := sum / float64(len(msgs))

	variance := 0.0
	for _, m := range msgs {
		d := float64(len(m.Content)) - mean
		variance += d * d
	}
	variance /= float64(len(msgs))

	return LengthStats{Mean: mean, StdDev: math.Sqrt(variance)}
}

// commonPhrases returns the entity's most frequent word bigrams, most
// frequent first, capped at maxCommonPhrases. Bigrams seen once don't count
// as habits.
func commonPhrases(msgs []Message) []string {
	counts := make(map[string]int)
	for _, m := range msgs {
		words := strings.Fields(strings.ToLower(m.Content))
		for i := 1; i < len(words); i++ {
			counts[words[i-1]+" "+words[i]]++
		}
	}

	type phraseCount struct {
		phrase string
		count  int
	}
	var ranked []phraseCount
	for phrase, count := range counts {
		if count < 2 {
			continue
		}
		ranked = append(ranked, phraseCount{phrase, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].phrase < ranked[j].phrase
	})

	var out []string
	for _, pc := range ranked {
		if len(out) == maxCommonPhrases {
			break
		}
		out = append(out, pc.phrase)
	}
	return out
}
