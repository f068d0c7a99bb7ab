package slot

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voiceintake/internal/phonetic"
)

func textSlot(key string) Slot {
	return Slot{Key: key, Prompt: Prompt{Text: key + "?"}, Validate: FreeText()}
}

func TestNewSchema_Valid(t *testing.T) {
	t.Parallel()
	s, err := NewSchema("restaurant", textSlot("name"), textSlot("date"), textSlot("time"))
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	if s.Name() != "restaurant" {
		t.Errorf("Name() = %q", s.Name())
	}
	if s.TotalSteps() != 3 {
		t.Errorf("TotalSteps() = %d, want 3", s.TotalSteps())
	}
	if got := strings.Join(s.Keys(), ","); got != "name,date,time" {
		t.Errorf("Keys() = %s", got)
	}
	sl, err := s.SlotAt(1)
	if err != nil {
		t.Fatalf("SlotAt(1): %v", err)
	}
	if sl.Key != "date" {
		t.Errorf("SlotAt(1).Key = %q, want date", sl.Key)
	}
	if sl.Mode != ModeSpeech {
		t.Errorf("default mode = %q, want %q", sl.Mode, ModeSpeech)
	}
	if !sl.Required {
		t.Error("schema slots must be marked required")
	}
	if step, ok := s.Step("time"); !ok || step != 2 {
		t.Errorf("Step(time) = %d, %v", step, ok)
	}
}

func TestSchema_SlotAtOutOfRange(t *testing.T) {
	t.Parallel()
	s, err := NewSchema("x", textSlot("a"))
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []int{-1, 1, 7} {
		if _, err := s.SlotAt(step); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("SlotAt(%d) err = %v, want ErrOutOfRange", step, err)
		}
	}
}

func TestNewSchema_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		slots   []Slot
		wantErr string
	}{
		{"empty", nil, "no slots"},
		{"duplicate", []Slot{textSlot("a"), textSlot("a")}, "duplicates"},
		{"no key", []Slot{{Prompt: Prompt{Text: "?"}, Validate: FreeText()}}, "key is required"},
		{"nil validator", []Slot{{Key: "a", Prompt: Prompt{Text: "?"}}}, "validator is required"},
		{"no prompt", []Slot{{Key: "a", Validate: FreeText()}}, "prompt is required"},
		{"bad mode", []Slot{{Key: "a", Prompt: Prompt{Text: "?"}, Validate: FreeText(), Mode: "smoke"}}, "mode"},
		{"half confirmation", []Slot{{
			Key: "a", Prompt: Prompt{Text: "?"}, Validate: FreeText(),
			Confirm: &Confirmation{Yes: []string{"ja"}},
		}}, "yes and no"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSchema("x", tt.slots...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestPrompt_Render(t *testing.T) {
	t.Parallel()
	p := Prompt{Text: "Ist {value} korrekt?", Asset: "confirm.mp3"}
	got := p.Render("Anna")
	if got.Text != "Ist Anna korrekt?" {
		t.Errorf("Render text = %q", got.Text)
	}
	if got.Asset != "" {
		t.Error("rendered prompt must drop the static asset")
	}
	if !got.Personal {
		t.Error("rendered prompt must be marked personal")
	}
	plain := Prompt{Text: "Wie heissen Sie?", Asset: "name.mp3"}
	if plain.Render("x") != plain {
		t.Error("prompt without placeholder must be unchanged")
	}
}

func TestConfirmation_Classify(t *testing.T) {
	t.Parallel()
	c := &Confirmation{
		Yes: []string{"ja", "korrekt", "richtig", "correct", "yes"},
		No:  []string{"nein", "falsch", "nicht korrekt", "incorrect", "no"},
	}
	m := phonetic.New()
	tests := []struct {
		in   string
		want Answer
	}{
		{"Ja, korrekt.", AnswerYes},
		{"correct", AnswerYes},
		{"Falsch", AnswerNo},
		{"incorrect", AnswerNo},
		{"Das ist nicht korrekt", AnswerNo},
		{"Das ist nicht richtig", AnswerNo},
		{"That is not correct", AnswerNo},
		{"Richtig, nicht Maier sondern Meier", AnswerYes},
		{"korekt", AnswerYes},
		{"blabla", AnswerUnknown},
		{"", AnswerUnknown},
	}
	for _, tt := range tests {
		if got := c.Classify(m, tt.in); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestException_Matches(t *testing.T) {
	t.Parallel()
	e := &Exception{Phrases: []string{"falsch verstanden", "meine daten sind falsch"}, Flag: "name_disputed"}
	if !e.Matches("Mein Name wurde falsch verstanden!") {
		t.Error("trigger phrase not detected")
	}
	if e.Matches("Anna Falkner") {
		t.Error("plain name matched the trigger")
	}
	if e.Matches("") {
		t.Error("empty value matched")
	}
}
