package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voiceintake/internal/record"
	"github.com/MrWong99/voiceintake/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TTSFactory builds a TTS provider from its config entry.
type TTSFactory func(entry ProviderEntry) (tts.Provider, error)

// SinkFactory builds a record sink. keys are the form's slot keys in order.
// The returned release function, when non-nil, frees what the factory opened
// (connection pools, files) and is called on shutdown.
type SinkFactory func(ctx context.Context, entry SinkEntry, keys []string) (sink record.Sink, release func(), err error)

// Registry maps backend names to constructors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tts   map[string]TTSFactory
	sinks map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:   make(map[string]TTSFactory),
		sinks: make(map[string]SinkFactory),
	}
}

// RegisterTTS registers a TTS provider factory under name. A later call with
// the same name overwrites the earlier registration.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSink registers a record sink factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSink instantiates the sink registered under entry.Type.
func (r *Registry) CreateSink(ctx context.Context, entry SinkEntry, keys []string) (record.Sink, func(), error) {
	r.mu.RLock()
	factory, ok := r.sinks[entry.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: sink/%q", ErrProviderNotRegistered, entry.Type)
	}
	return factory(ctx, entry, keys)
}

// Names returns the registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{"tts": {}, "sink": {}}
	for n := range r.tts {
		out["tts"] = append(out["tts"], n)
	}
	for n := range r.sinks {
		out["sink"] = append(out["sink"], n)
	}
	slices.Sort(out["tts"])
	slices.Sort(out["sink"])
	return out
}
