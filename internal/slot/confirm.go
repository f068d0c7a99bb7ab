package slot

import (
	"strings"

	"github.com/MrWong99/voiceintake/internal/phonetic"
)

// Answer is the caller's reply to a confirmation question.
type Answer int

const (
	// AnswerUnknown means the reply was neither yes nor no.
	AnswerUnknown Answer = iota
	AnswerYes
	AnswerNo
)

// String returns the answer name.
func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	default:
		return "unknown"
	}
}

// negators turn a following yes-phrase into a no.
var negators = []string{"nicht", "not", "kein", "keine", "never", "nie"}

// Classify interprets raw against the yes/no lexicon. Whole-token matches are
// checked first, negatives before positives. A yes-phrase directly preceded by
// a negator ("nicht richtig", "not correct") is a no even when the negated
// form is missing from No. Only then is m (if non-nil) asked for a phonetic
// match; ties stay unknown.
func (c *Confirmation) Classify(m *phonetic.Matcher, raw string) Answer {
	in := phonetic.Normalize(raw)
	if in == "" {
		return AnswerUnknown
	}
	if containsPhrase(in, c.No) || negatesPhrase(in, c.Yes) {
		return AnswerNo
	}
	if containsPhrase(in, c.Yes) {
		return AnswerYes
	}
	if m == nil {
		return AnswerUnknown
	}
	_, yes, yesOK := m.Closest(in, c.Yes)
	_, no, noOK := m.Closest(in, c.No)
	switch {
	case yesOK && (!noOK || yes > no):
		return AnswerYes
	case noOK && (!yesOK || no > yes):
		return AnswerNo
	}
	return AnswerUnknown
}

// Matches reports whether the accepted value v contains one of the trigger
// phrases on token boundaries. No phonetic matching is applied.
func (e *Exception) Matches(v string) bool {
	in := phonetic.Normalize(v)
	if in == "" {
		return false
	}
	return containsPhrase(in, e.Phrases)
}

// containsPhrase reports whether one of phrases occurs in the normalised
// input on token boundaries.
func containsPhrase(in string, phrases []string) bool {
	padded := " " + in + " "
	for _, p := range phrases {
		np := phonetic.Normalize(p)
		if np == "" {
			continue
		}
		if strings.Contains(padded, " "+np+" ") {
			return true
		}
	}
	return false
}

// negatesPhrase reports whether one of phrases occurs directly after a
// negator.
func negatesPhrase(in string, phrases []string) bool {
	for _, n := range negators {
		for _, p := range phrases {
			np := phonetic.Normalize(p)
			if np != "" && containsPhrase(in, []string{n + " " + np}) {
				return true
			}
		}
	}
	return false
}
