// Package phonetic matches a recognised utterance against a small closed set
// of expected phrases. Speech recognisers regularly return near-misses for
// short answers ("bestehent", "korekt"), so exact lookup alone rejects too
// many valid turns.
//
// Matching is two-staged:
//
//  1. Candidates whose Double Metaphone codes overlap with the utterance are
//     ranked by Jaro-Winkler similarity and accepted above the phonetic
//     threshold.
//  2. Without a phonetic candidate, pure Jaro-Winkler similarity is used with
//     a stricter fuzzy threshold.
//
// A Matcher is read-only after construction and safe for concurrent use.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phrase whose
// phonetic code overlaps with the utterance. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score used when no phrase
// shares a phonetic code with the utterance. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher finds the closest expected phrase for an utterance.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Closest returns the phrase from phrases that best matches utterance.
// Exact matches after [Normalize] always win with score 1. When nothing
// clears the thresholds, ok is false and best is empty.
func (m *Matcher) Closest(utterance string, phrases []string) (best string, score float64, ok bool) {
	in := Normalize(utterance)
	if in == "" || len(phrases) == 0 {
		return "", 0, false
	}
	inTokens := strings.Fields(in)
	inCodes := codes(inTokens)

	var (
		bestPhonetic bool
		bestScore    float64
		bestPhrase   string
	)
	for _, phrase := range phrases {
		p := Normalize(phrase)
		if p == "" {
			continue
		}
		if p == in {
			return phrase, 1, true
		}
		pTokens := strings.Fields(p)
		s := similarity(inTokens, pTokens, in, p)

		if overlaps(inCodes, codes(pTokens)) {
			if s < m.phoneticThreshold {
				continue
			}
			if !bestPhonetic || s > bestScore {
				bestPhonetic, bestScore, bestPhrase = true, s, phrase
			}
			continue
		}
		if bestPhonetic {
			continue
		}
		if s >= m.fuzzyThreshold && s > bestScore {
			bestScore, bestPhrase = s, phrase
		}
	}
	if bestPhrase == "" {
		return "", 0, false
	}
	return bestPhrase, bestScore, true
}

// Normalize lower-cases s, drops punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score across the full strings, the
// space-stripped strings and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	// Token pairs only count for single-token phrases; otherwise "nicht richtig"
	// would match "richtig" perfectly.
	if len(bTokens) == 1 {
		for _, at := range aTokens {
			if s := matchr.JaroWinkler(at, bTokens[0], false); s > score {
				score = s
			}
		}
	}
	return score
}
