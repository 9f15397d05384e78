package patterns

// Keyword lists used by score-based detectors. Unlike the regex registry
// these are matched by substring against lowercased text, so keep every
// entry lowercase.

// ManipulationFactor names one of the eight social-engineering levers.
type ManipulationFactor string

const (
	FactorUrgency      ManipulationFactor = "urgency"
	FactorAuthority    ManipulationFactor = "authority"
	FactorIntimidation ManipulationFactor = "intimidation"
	FactorLiking       ManipulationFactor = "liking"
	FactorReciprocity  ManipulationFactor = "reciprocity"
	FactorCommitment   ManipulationFactor = "commitment"
	FactorSocialProof  ManipulationFactor = "social_proof"
	FactorScarcity     ManipulationFactor = "scarcity"
)

// ManipulationPhrases maps each factor to its cue phrase list.
var ManipulationPhrases = map[ManipulationFactor][]string{
	FactorUrgency: {
		"urgent", "immediately", "right now", "right away", "act fast",
		"before it's too late", "time is running out", "asap",
	},
	FactorAuthority: {
		"your manager", "the ceo", "i'm an admin", "i am an admin",
		"compliance department", "it department", "official notice",
		"on behalf of", "security team",
	},
	FactorIntimidation: {
		"or else", "you will be fired", "legal action", "face consequences",
		"will be terminated", "will be suspended", "reported to",
	},
	FactorLiking: {
		"you're the best", "i really admire", "good friend",
		"always liked you", "you're so helpful", "my favorite",
	},
	FactorReciprocity: {
		"i did you a favor", "after all i've done", "you owe me",
		"i helped you", "return the favor",
	},
	FactorCommitment: {
		"you promised", "you agreed", "you said you would",
		"as we discussed", "keep your word",
	},
	FactorSocialProof: {
		"everyone else", "all the others", "the whole team",
		"everybody is doing", "others have already",
	},
	FactorScarcity: {
		"only one left", "limited time", "exclusive offer", "last chance",
		"while supplies last", "spots are limited",
	},
}

// ManipulationWeights combines per-factor scores into a single risk score.
// Authority and intimidation carry the most weight; the vector sums to 1.
var ManipulationWeights = map[ManipulationFactor]float64{
	FactorUrgency:      0.15,
	FactorAuthority:    0.20,
	FactorIntimidation: 0.20,
	FactorLiking:       0.10,
	FactorReciprocity:  0.10,
	FactorCommitment:   0.08,
	FactorSocialProof:  0.07,
	FactorScarcity:     0.10,
}

// SuspiciousVocabulary is the 9-term system-manipulation vocabulary used by
// the coarse semantic fallback when no injection regex matched.
var SuspiciousVocabulary = []string{
	"system", "prompt", "instruction", "override", "bypass",
	"sudo", "admin", "execute", "jailbreak",
}

// RequestVerbs are the verbs that turn a credential mention into a request
// directed at other participants.
var RequestVerbs = []string{"send", "give", "share", "post", "dm"}

// ConfusableGlyphs folds visually confusable characters onto a canonical
// glyph for impersonation comparison (l/I/1/| and 0/O/o families).
var ConfusableGlyphs = map[rune]rune{
	'I': 'l',
	'1': 'l',
	'|': 'l',
	'0': 'o',
	'O': 'o',
}

// FoldConfusables maps every confusable glyph in s to its canonical form.
// Callers should normalize case and unicode form first.
func FoldConfusables(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if folded, ok := ConfusableGlyphs[r]; ok {
			r = folded
		}
		out = append(out, r)
	}
	return string(out)
}
