package config

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voiceintake/internal/phonetic"
	"github.com/MrWong99/voiceintake/internal/slot"
)

// Prompt converts p to a [slot.Prompt].
func (p PromptConfig) Prompt() slot.Prompt {
	return slot.Prompt{Text: p.Text, Asset: p.Asset}
}

// Matcher returns the phonetic matcher configured by m.
func (m MatchingConfig) Matcher() *phonetic.Matcher {
	var opts []phonetic.Option
	if m.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(m.PhoneticThreshold))
	}
	if m.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(m.FuzzyThreshold))
	}
	return phonetic.New(opts...)
}

// BuildSchema turns the form declaration into an immutable [slot.Schema].
// Spoken choices are matched with matcher; nil disables phonetic matching.
func BuildSchema(f FormConfig, matcher *phonetic.Matcher) (*slot.Schema, error) {
	if f.Name == "" {
		return nil, errors.New("config: form.name is required")
	}
	var errs []error
	slots := make([]slot.Slot, 0, len(f.Slots))
	for i, sc := range f.Slots {
		prefix := fmt.Sprintf("form.slots[%d]", i)
		v, err := buildValidator(sc.Validator, matcher)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.validator: %w", prefix, err))
			continue
		}
		s := slot.Slot{
			Key:         sc.Key,
			Prompt:      sc.Prompt.Prompt(),
			RetryPrompt: sc.RetryPrompt.Prompt(),
			Mode:        slot.Mode(sc.Mode),
			MaxDigits:   sc.MaxDigits,
			Validate:    v,
		}
		if s.Mode == "" {
			s.Mode = defaultMode(sc.Validator.Type)
		}
		if c := sc.Confirm; c != nil {
			s.Confirm = &slot.Confirmation{
				Question:    c.Question.Prompt(),
				SpellPrompt: c.SpellPrompt.Prompt(),
				Yes:         c.Yes,
				No:          c.No,
				Flag:        c.Flag,
			}
			if s.Confirm.Question.IsZero() {
				errs = append(errs, fmt.Errorf("%s.confirm.question is required", prefix))
			}
		}
		if e := sc.Exception; e != nil {
			if len(e.Phrases) == 0 || e.Flag == "" {
				errs = append(errs, fmt.Errorf("%s.exception needs phrases and a flag", prefix))
			}
			s.Exception = &slot.Exception{Phrases: e.Phrases, Flag: e.Flag}
		}
		slots = append(slots, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	schema, err := slot.NewSchema(f.Name, slots...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return schema, nil
}

// defaultMode infers the input mode from the validator type.
func defaultMode(validator string) slot.Mode {
	switch validator {
	case ValidatorDigits, ValidatorDateOfBirth:
		return slot.ModeDigits
	case ValidatorChoice:
		return slot.ModeChoice
	default:
		return slot.ModeSpeech
	}
}

func buildValidator(vc ValidatorConfig, matcher *phonetic.Matcher) (slot.Validator, error) {
	switch vc.Type {
	case ValidatorFreeText, "":
		return slot.FreeText(), nil
	case ValidatorDigits:
		if vc.MinDigits < 0 {
			return nil, fmt.Errorf("min_digits %d is negative", vc.MinDigits)
		}
		return slot.Digits(vc.MinDigits), nil
	case ValidatorDateOfBirth:
		return slot.DateOfBirth(), nil
	case ValidatorChoice:
		if len(vc.Options) == 0 {
			return nil, errors.New("choice needs at least one option")
		}
		opts := make([]slot.ChoiceOption, 0, len(vc.Options))
		seen := make(map[string]bool, len(vc.Options))
		for j, o := range vc.Options {
			if o.Label == "" {
				return nil, fmt.Errorf("options[%d].label is required", j)
			}
			if o.Digit != "" {
				if seen[o.Digit] {
					return nil, fmt.Errorf("options[%d].digit %q is used twice", j, o.Digit)
				}
				seen[o.Digit] = true
			}
			opts = append(opts, slot.ChoiceOption{Digit: o.Digit, Label: o.Label, Phrases: o.Phrases})
		}
		return slot.Choice(matcher, opts...), nil
	default:
		return nil, fmt.Errorf("type %q is invalid; valid values: free_text, digits, date_of_birth, choice", vc.Type)
	}
}

// StaticPrompts lists every prompt of cfg whose text does not depend on the
// caller's answer, in declaration order. They are the candidates for
// synthesis at startup.
func StaticPrompts(cfg *Config) []slot.Prompt {
	p := cfg.Prompts
	out := []slot.Prompt{
		p.Greeting.Prompt(), p.Closing.Prompt(), p.Apology.Prompt(),
		p.GiveUp.Prompt(), p.RetryLeadIn.Prompt(),
	}
	for _, s := range cfg.Form.Slots {
		out = append(out, s.Prompt.Prompt(), s.RetryPrompt.Prompt())
		if s.Confirm != nil {
			out = append(out, s.Confirm.Question.Prompt(), s.Confirm.SpellPrompt.Prompt())
		}
	}
	kept := out[:0]
	for _, pr := range out {
		if !pr.IsZero() {
			kept = append(kept, pr)
		}
	}
	return kept
}
