package slot

import (
	"testing"

	"github.com/MrWong99/voiceintake/internal/phonetic"
)

func TestFreeText(t *testing.T) {
	t.Parallel()
	v := FreeText()
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"  Anna Müller. ", "Anna Müller", true},
		{"Rückenschmerzen!", "Rückenschmerzen", true},
		{"Dr. House", "Dr. House", true},
		{"   ", "", false},
		{"?!", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := v(tt.in)
		if r.OK() != tt.wantOK {
			t.Errorf("FreeText(%q).OK() = %v, want %v", tt.in, r.OK(), tt.wantOK)
			continue
		}
		if r.Value != tt.want {
			t.Errorf("FreeText(%q) = %q, want %q", tt.in, r.Value, tt.want)
		}
	}
}

func TestDigits(t *testing.T) {
	t.Parallel()
	v := Digits(6)

	r := v("076-123 45 67")
	if !r.OK() || r.Value != "0761234567" {
		t.Errorf("Digits(6)(%q) = %+v, want 0761234567", "076-123 45 67", r)
	}
	if r := v("12345"); r.OK() {
		t.Errorf("five digits accepted: %+v", r)
	}
	if r := v("keine Ahnung"); r.OK() || r.Reason == "" {
		t.Errorf("no digits: got %+v, want rejection with reason", r)
	}
	if r := v("123456"); !r.OK() || r.Value != "123456" {
		t.Errorf("exactly min digits should be accepted, got %+v", r)
	}
}

func TestDateOfBirth(t *testing.T) {
	t.Parallel()
	v := DateOfBirth()
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"010807", "01.08.2007", true},
		{"010893", "01.08.1993", true},
		{"01082007", "01.08.2007", true},
		{"01.08.93", "01.08.1993", true},
		{"311230", "31.12.2030", true},
		{"010131", "01.01.1931", true},
		{"010100", "01.01.2000", true},
		{"01087", "", false},
		{"0108200", "", false},
		{"300290", "", false},
		{"011393", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := v(tt.in)
		if r.OK() != tt.wantOK {
			t.Errorf("DateOfBirth(%q).OK() = %v, want %v (reason %q)", tt.in, r.OK(), tt.wantOK, r.Reason)
			continue
		}
		if r.Value != tt.want {
			t.Errorf("DateOfBirth(%q) = %q, want %q", tt.in, r.Value, tt.want)
		}
	}
}

func patientStatus() Validator {
	return Choice(phonetic.New(),
		ChoiceOption{Digit: "1", Label: "bestehend", Phrases: []string{"bestehender patient", "schon patient"}},
		ChoiceOption{Digit: "2", Label: "neu", Phrases: []string{"neuer patient"}},
		ChoiceOption{Digit: "3", Label: "unsicher", Phrases: []string{"weiss nicht"}},
	)
}

func TestChoice_Keypad(t *testing.T) {
	t.Parallel()
	v := patientStatus()

	if r := v("1"); !r.OK() || r.Value != "bestehend" {
		t.Errorf("digit 1 = %+v, want bestehend", r)
	}
	if r := v("3"); !r.OK() || r.Value != "unsicher" {
		t.Errorf("digit 3 = %+v, want unsicher", r)
	}
	if r := v("9"); r.OK() {
		t.Errorf("digit 9 should be rejected, got %+v", r)
	}
}

func TestChoice_Speech(t *testing.T) {
	t.Parallel()
	v := patientStatus()
	tests := []struct {
		in   string
		want string
	}{
		{"Neuer Patient.", "neu"},
		{"ich bin neu", "neu"},
		{"Bestehend", "bestehend"},
		{"bestehent", "bestehend"},
		{"weiss nicht", "unsicher"},
	}
	for _, tt := range tests {
		r := v(tt.in)
		if !r.OK() {
			t.Errorf("Choice(%q) rejected: %s", tt.in, r.Reason)
			continue
		}
		if r.Value != tt.want {
			t.Errorf("Choice(%q) = %q, want %q", tt.in, r.Value, tt.want)
		}
	}
	if r := v(""); r.OK() {
		t.Error("empty input accepted")
	}
	if r := v("xyz"); r.OK() {
		t.Errorf("unrelated input accepted as %q", r.Value)
	}
}

func TestChoice_NilMatcherIsExactOnly(t *testing.T) {
	t.Parallel()
	v := Choice(nil, ChoiceOption{Digit: "1", Label: "bestehend"})
	if r := v("bestehent"); r.OK() {
		t.Errorf("near-miss accepted without matcher: %+v", r)
	}
	if r := v("bestehend"); !r.OK() {
		t.Error("label rejected without matcher")
	}
}
