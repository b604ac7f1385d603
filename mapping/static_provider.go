package mapping

import (
	"reflect"
	"sync"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// StaticProvider serves hand written or generated Definitions.
type StaticProvider struct {
	mu   sync.RWMutex
	defs map[reflect.Type]Definition
}

// NewStaticProvider creates a provider holding the given definitions.
func NewStaticProvider(defs ...Definition) *StaticProvider {
	p := &StaticProvider{defs: make(map[reflect.Type]Definition, len(defs))}
	for _, def := range defs {
		p.Add(def)
	}
	return p
}

// Add registers or replaces the definition for def.Type.
func (p *StaticProvider) Add(def Definition) {
	t := def.Type
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	def.Type = t
	p.mu.Lock()
	p.defs[t] = def
	p.mu.Unlock()
}

// Definition implements Provider.
func (p *StaticProvider) Definition(t reflect.Type) (Definition, error) {
	p.mu.RLock()
	def, ok := p.defs[t]
	p.mu.RUnlock()
	if !ok {
		return Definition{Type: t}, ormerr.NewMapping(t.Name(), "no definition registered")
	}
	return def, nil
}

// ChainProvider asks each provider in turn and returns the first definition
// that resolves without a mapping error.
type ChainProvider []Provider

// Definition implements Provider.
func (c ChainProvider) Definition(t reflect.Type) (Definition, error) {
	var lastErr error = ormerr.NewMapping(t.Name(), "no provider configured")
	for _, p := range c {
		def, err := p.Definition(t)
		if err == nil {
			return def, nil
		}
		lastErr = err
	}
	return Definition{Type: t}, lastErr
}
