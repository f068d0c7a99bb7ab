package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/voiceintake/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] across several synthesis backends,
// each behind its own circuit breaker.
//
// Prompts are rendered whole, so SynthesizeStream reads the complete text
// before it picks a backend and only hands back audio once a backend has
// produced all of it. A backend that drops the stream midway therefore
// counts as failed and the next one is tried.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of each backend.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// SynthesizeStream drains text, synthesises it on the first healthy backend
// and returns a channel carrying the complete audio as a single chunk.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	var sb strings.Builder
	for {
		select {
		case frag, ok := <-text:
			if !ok {
				return f.synthesize(ctx, sb.String(), voice)
			}
			sb.WriteString(frag)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *TTSFallback) synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	audio, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]byte, error) {
		return tts.Synthesize(ctx, p, text, voice)
	})
	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, 1)
	ch <- audio
	close(ch)
	return ch, nil
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
