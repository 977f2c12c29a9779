// Package procedure builds the frame sent after a successful key exchange.
// Procedures are selected per device fingerprint.
package procedure

import (
	"fmt"
	"sort"
	"sync"

	"bytemomo/whisper/internal/domain"
)

// Procedure produces the trigger frame for one attempt.
type Procedure interface {
	ID() string
	Build(s domain.Session, d domain.Device) ([]byte, error)
}

// Registry maps device fingerprints to procedures. The zero value is not
// usable; call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	catalog  map[string]Procedure
	bindings map[string]Procedure
	fallback Procedure
}

// NewRegistry returns a registry whose catalog holds procs.
func NewRegistry(procs ...Procedure) *Registry {
	r := &Registry{
		catalog:  make(map[string]Procedure),
		bindings: make(map[string]Procedure),
	}
	for _, p := range procs {
		r.Add(p)
	}
	return r
}

// Add puts p in the catalog under its ID, replacing any previous entry.
func (r *Registry) Add(p Procedure) {
	if p == nil || p.ID() == "" {
		return
	}
	r.mu.Lock()
	r.catalog[p.ID()] = p
	r.mu.Unlock()
}

// Lookup returns the catalog entry for id.
func (r *Registry) Lookup(id string) (Procedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.catalog[id]
	return p, ok
}

// IDs lists the catalog, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.catalog))
	for id := range r.catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register binds fingerprint to p.
func (r *Registry) Register(fingerprint string, p Procedure) {
	if fingerprint == "" || p == nil {
		return
	}
	r.mu.Lock()
	r.bindings[fingerprint] = p
	r.mu.Unlock()
	r.Add(p)
}

// SetDefault sets the procedure used for fingerprints without a binding.
func (r *Registry) SetDefault(p Procedure) {
	r.mu.Lock()
	r.fallback = p
	r.mu.Unlock()
	r.Add(p)
}

// Resolve picks the procedure for d: the exact fingerprint binding first,
// then the default.
func (r *Registry) Resolve(d domain.Device) (Procedure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.bindings[d.Fingerprint]; ok {
		return p, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("fingerprint %q: %w", d.Fingerprint, domain.ErrNoProcedure)
}

// FromConfig builds a registry holding the built-ins plus the configured
// templates, with bindings and default resolved by ID.
func FromConfig(cfg domain.ProceduresConfig, profile domain.Profile) (*Registry, error) {
	r := NewRegistry(NewLengthOverflow(profile.KeyExchangeHeader))

	for _, tc := range cfg.Templates {
		t, err := NewTemplate(tc.ID, tc.Frame)
		if err != nil {
			return nil, err
		}
		r.Add(t)
	}

	for fp, id := range cfg.ByFingerprint {
		p, ok := r.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("procedure %q for fingerprint %q: %w", id, fp, domain.ErrNoProcedure)
		}
		r.Register(fp, p)
	}

	if cfg.Default != "" {
		p, ok := r.Lookup(cfg.Default)
		if !ok {
			return nil, fmt.Errorf("default procedure %q: %w", cfg.Default, domain.ErrNoProcedure)
		}
		r.SetDefault(p)
	}
	return r, nil
}
