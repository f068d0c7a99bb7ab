package phonetic

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"  Hallo,   Welt! ", "hallo welt"},
		{"Bestehend.", "bestehend"},
		{"076-123", "076 123"},
		{"", ""},
		{"...", ""},
		{"Müller", "müller"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClosest_ExactMatchAfterNormalize(t *testing.T) {
	t.Parallel()
	m := New()
	got, score, ok := m.Closest("Bestehend.", []string{"bestehend", "neu", "unsicher"})
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "bestehend" {
		t.Errorf("got %q, want %q", got, "bestehend")
	}
	if score != 1 {
		t.Errorf("score = %f, want 1", score)
	}
}

func TestClosest_Misrecognition(t *testing.T) {
	t.Parallel()
	m := New()
	got, _, ok := m.Closest("bestehent", []string{"bestehend", "neu", "unsicher"})
	if !ok {
		t.Fatal("expected a match for a near-miss")
	}
	if got != "bestehend" {
		t.Errorf("got %q, want %q", got, "bestehend")
	}
}

func TestClosest_NoMatch(t *testing.T) {
	t.Parallel()
	m := New()
	if got, _, ok := m.Closest("xyz", []string{"bestehend", "neu"}); ok {
		t.Errorf("unexpected match %q", got)
	}
}

func TestClosest_EmptyInputs(t *testing.T) {
	t.Parallel()
	m := New()
	if _, _, ok := m.Closest("", []string{"ja"}); ok {
		t.Error("empty utterance should not match")
	}
	if _, _, ok := m.Closest("ja", nil); ok {
		t.Error("empty phrase list should not match")
	}
}

func TestClosest_ThresholdOptions(t *testing.T) {
	t.Parallel()
	strict := New(WithPhoneticThreshold(1.1), WithFuzzyThreshold(1.1))
	if _, _, ok := strict.Closest("bestehent", []string{"bestehend"}); ok {
		t.Error("thresholds above 1 should only admit exact matches")
	}
	if _, _, ok := strict.Closest("bestehend", []string{"bestehend"}); !ok {
		t.Error("exact match must bypass thresholds")
	}
}
