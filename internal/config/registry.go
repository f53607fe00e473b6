package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when a provider entry names a backend
// no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry resolves provider names from configuration into live provider
// instances, one factory map per provider kind. main registers the built-in
// backends at startup; tests register their own. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.BatchProvider, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.BatchProvider, error)),
	}
}

// RegisterLLM installs an LLM factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT installs an STT factory under name, replacing any previous one.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.BatchProvider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateLLM builds the LLM provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT builds the STT provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.BatchProvider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
