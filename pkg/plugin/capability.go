package plugin

import (
	"sort"
	"sync"
)

// CapabilityRegistry tracks which capabilities each ACTIVE plugin holds.
// Grants and revokes are total: a plugin either holds its full declared set
// or none of it, mirroring the lifecycle manager's activate/deactivate
// atomicity.
type CapabilityRegistry struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]struct{}
}

// NewCapabilityRegistry creates an empty capability registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		grants: make(map[string]map[Capability]struct{}),
	}
}

// Grant records the full capability set for a plugin, replacing any prior grant.
func (r *CapabilityRegistry) Grant(slug string, capabilities []Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[Capability]struct{}, len(capabilities))
	for _, c := range capabilities {
		set[c] = struct{}{}
	}
	r.grants[slug] = set
}

// Revoke removes every capability held by a plugin.
func (r *CapabilityRegistry) Revoke(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants, slug)
}

// HasCapability reports whether slug currently holds the capability.
func (r *CapabilityRegistry) HasCapability(slug string, c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[slug][c]
	return ok
}

// Capabilities returns the sorted capability set held by slug.
func (r *CapabilityRegistry) Capabilities(slug string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.grants[slug]
	if !ok {
		return nil
	}
	out := make([]Capability, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
