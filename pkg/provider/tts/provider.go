// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// channel of encoded audio bytes as they become available. Callers that need a
// whole file (prompt rendering for telephony playback) use [Synthesize].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrNoAudio is returned by [Synthesize] when the provider closed its audio
// stream without producing any bytes.
var ErrNoAudio = errors.New("tts: provider produced no audio")

// Voice selects and tunes a synthesis voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 tag of the text, e.g. "de-DE".
	Language string

	// Stability and SimilarityBoost tune expressive providers (0–1). Zero
	// values select the provider defaults.
	Stability       float64
	SimilarityBoost float64

	// Metadata holds provider-specific voice attributes (gender, accent, …).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits encoded audio chunks as they are
	// synthesised.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis close the audio channel early; callers should check
	// ctx.Err() to distinguish cancellation from provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// ListVoices returns all voices available from this provider.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Synthesize renders text in one piece and returns the complete audio.
func Synthesize(ctx context.Context, p Provider, text string, voice Voice) ([]byte, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	audio, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for chunk := range audio {
		buf.Write(chunk)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tts: synthesize: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrNoAudio
	}
	return buf.Bytes(), nil
}
