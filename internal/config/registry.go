package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cho1y0/neulbom/pkg/provider/emotion"
	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(e ProviderEntry) (T, error) {
	fn, ok := f.m[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	return fn(e)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to factories per provider kind. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	llm     factories[llm.Provider]
	stt     factories[stt.Provider]
	tts     factories[tts.Provider]
	emotion factories[emotion.Classifier]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:     newFactories[llm.Provider]("llm"),
		stt:     newFactories[stt.Provider]("stt"),
		tts:     newFactories[tts.Provider]("tts"),
		emotion: newFactories[emotion.Classifier]("emotion"),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterSTT registers an STT factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterEmotion registers an emotion classifier factory under name. The
// same factory serves text and audio entries; the entry's options select
// the modality.
func (r *Registry) RegisterEmotion(name string, f Factory[emotion.Classifier]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emotion.m[name] = f
}

// CreateLLM builds the LLM provider named by e.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(e)
}

// CreateSTT builds the STT provider named by e.
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(e)
}

// CreateTTS builds the TTS provider named by e.
func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(e)
}

// CreateEmotion builds the classifier named by e.
func (r *Registry) CreateEmotion(e ProviderEntry) (emotion.Classifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.emotion.create(e)
}

// Names returns the registered names of kind (llm, stt, tts, emotion).
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	case "emotion":
		return r.emotion.names()
	}
	return nil
}
