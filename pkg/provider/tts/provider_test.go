package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voiceintake/pkg/provider/tts"
	"github.com/MrWong99/voiceintake/pkg/provider/tts/mock"
)

func TestSynthesize_CollectsChunks(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("ID3"), []byte("-audio")}}
	voice := tts.Voice{ID: "v1", Language: "de-DE"}

	got, err := tts.Synthesize(context.Background(), p, "Guten Tag", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != "ID3-audio" {
		t.Errorf("audio = %q", got)
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0].Text != "Guten Tag" || calls[0].Voice.ID != "v1" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	if _, err := tts.Synthesize(context.Background(), p, "x", tts.Voice{}); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}

func TestSynthesize_StartError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	p := &mock.Provider{SynthesizeErr: boom}
	if _, err := tts.Synthesize(context.Background(), p, "x", tts.Voice{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestSynthesize_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("a")}}
	if _, err := tts.Synthesize(ctx, p, "x", tts.Voice{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
