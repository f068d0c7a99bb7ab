package slot

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/voiceintake/internal/phonetic"
)

// Result is the outcome of a [Validator]: either an accepted, normalised
// value or a rejection reason. Rejection is an expected outcome, not an error.
type Result struct {
	Value  string
	Reason string
	ok     bool
}

// Accept returns an accepting [Result] for the normalised value v.
func Accept(v string) Result { return Result{Value: v, ok: true} }

// Reject returns a rejecting [Result] with a short, log-friendly reason.
func Reject(reason string) Result { return Result{Reason: reason} }

// OK reports whether the input was accepted.
func (r Result) OK() bool { return r.ok }

// Validator turns raw caller input into a normalised value or a rejection.
// Validators must be pure and total: they never panic on caller input.
type Validator func(raw string) Result

const terminalPunct = ".,!?;:…\"'"

// FreeText accepts any non-empty answer after trimming surrounding
// whitespace and terminal punctuation.
func FreeText() Validator {
	return func(raw string) Result {
		v := strings.TrimSpace(raw)
		v = strings.TrimRight(v, terminalPunct)
		v = strings.TrimSpace(v)
		if v == "" {
			return Reject("empty")
		}
		return Accept(v)
	}
}

// Digits strips every non-digit character and accepts the remainder when it
// has at least min digits.
func Digits(min int) Validator {
	return func(raw string) Result {
		d := onlyDigits(raw)
		if len(d) == 0 {
			return Reject("no digits")
		}
		if len(d) < min {
			return Reject(fmt.Sprintf("%d digits, need at least %d", len(d), min))
		}
		return Accept(d)
	}
}

// dobPivot is the last two-digit year resolved into the 2000s.
const dobPivot = 30

// DateOfBirth accepts exactly 6 (DDMMYY) or 8 (DDMMYYYY) digits and returns
// DD.MM.YYYY. Two-digit years 00–30 resolve to 20xx, 31–99 to 19xx.
func DateOfBirth() Validator {
	return func(raw string) Result {
		d := onlyDigits(raw)
		var day, month, year int
		switch len(d) {
		case 6:
			day, month, year = atoi(d[0:2]), atoi(d[2:4]), atoi(d[4:6])
			if year <= dobPivot {
				year += 2000
			} else {
				year += 1900
			}
		case 8:
			day, month, year = atoi(d[0:2]), atoi(d[2:4]), atoi(d[4:8])
		default:
			return Reject(fmt.Sprintf("%d digits, need 6 or 8", len(d)))
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month || t.Year() != year {
			return Reject("not a calendar date")
		}
		return Accept(fmt.Sprintf("%02d.%02d.%04d", day, month, year))
	}
}

// ChoiceOption is one entry of a closed choice set.
type ChoiceOption struct {
	// Digit is the keypad key selecting this option, e.g. "1".
	Digit string

	// Label is the canonical value stored in the record.
	Label string

	// Phrases are spoken variants recognised for this option. The label
	// itself is always recognised.
	Phrases []string
}

// Choice maps a keypad digit or a recognised phrase to the option label.
// Spoken input is compared exactly first, then phonetically with m. A nil m
// disables phonetic matching.
func Choice(m *phonetic.Matcher, options ...ChoiceOption) Validator {
	byDigit := make(map[string]string, len(options))
	byPhrase := make(map[string]string)
	for _, o := range options {
		if o.Digit != "" {
			byDigit[o.Digit] = o.Label
		}
		byPhrase[phonetic.Normalize(o.Label)] = o.Label
		for _, p := range o.Phrases {
			byPhrase[phonetic.Normalize(p)] = o.Label
		}
	}
	delete(byPhrase, "")
	phrases := make([]string, 0, len(byPhrase))
	for p := range byPhrase {
		phrases = append(phrases, p)
	}
	// Deterministic tie-breaking in the matcher.
	sort.Strings(phrases)

	return func(raw string) Result {
		in := phonetic.Normalize(raw)
		if in == "" {
			return Reject("empty")
		}
		if isDigits(strings.ReplaceAll(in, " ", "")) {
			if label, ok := byDigit[strings.ReplaceAll(in, " ", "")]; ok {
				return Accept(label)
			}
			return Reject(fmt.Sprintf("no option for key %q", in))
		}
		if label, ok := byPhrase[in]; ok {
			return Accept(label)
		}
		for _, tok := range strings.Fields(in) {
			if label, ok := byPhrase[tok]; ok {
				return Accept(label)
			}
		}
		if m != nil {
			if p, _, ok := m.Closest(in, phrases); ok {
				return Accept(byPhrase[p])
			}
		}
		return Reject(fmt.Sprintf("no option matches %q", in))
	}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// atoi parses a short, already-validated run of ASCII digits.
func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
