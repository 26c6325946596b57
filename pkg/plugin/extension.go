package plugin

import (
	"sort"
	"sync"
)

// ExtensionRegistry holds the live table of hooks, filters, and routes
// contributed by ACTIVE plugins. It is mutated only by the lifecycle
// manager; entries exist exactly while the owning plugin is ACTIVE.
//
// A single coarse lock guards the maps. Registration is infrequent relative
// to lookups and the lock only covers map mutation, never caller logic.
type ExtensionRegistry struct {
	mu      sync.RWMutex
	byOwner map[string][]Registration
	routes  map[string]string // METHOD + " " + path -> owner slug
}

// NewExtensionRegistry creates an empty extension point registry.
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{
		byOwner: make(map[string][]Registration),
		routes:  make(map[string]string),
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// RegisterAll registers every entry or none. Hook and filter name collisions
// across plugins are allowed; route path+method collisions are rejected with
// *RouteConflictError naming the existing owner, leaving the registry
// untouched.
func (r *ExtensionRegistry) RegisterAll(regs []Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerAllLocked(regs)
}

func (r *ExtensionRegistry) registerAllLocked(regs []Registration) error {
	claimed := make(map[string]bool, len(regs))
	for _, reg := range regs {
		if reg.Kind != KindRoute {
			continue
		}
		key := routeKey(reg.Method, reg.Name)
		if owner, exists := r.routes[key]; exists && owner != reg.Owner {
			return &RouteConflictError{Method: reg.Method, Path: reg.Name, Owner: owner}
		}
		if claimed[key] {
			return &RouteConflictError{Method: reg.Method, Path: reg.Name, Owner: reg.Owner}
		}
		claimed[key] = true
	}

	for _, reg := range regs {
		r.byOwner[reg.Owner] = append(r.byOwner[reg.Owner], reg)
		if reg.Kind == KindRoute {
			r.routes[routeKey(reg.Method, reg.Name)] = reg.Owner
		}
	}
	return nil
}

// DeregisterOwner removes every registration owned by slug in one call.
func (r *ExtensionRegistry) DeregisterOwner(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisterOwnerLocked(slug)
}

func (r *ExtensionRegistry) deregisterOwnerLocked(slug string) {
	for _, reg := range r.byOwner[slug] {
		if reg.Kind == KindRoute {
			delete(r.routes, routeKey(reg.Method, reg.Name))
		}
	}
	delete(r.byOwner, slug)
}

// ReplaceOwner atomically swaps slug's registrations for regs. Used by
// Update so the old entries never coexist with conflicting new ones and are
// restored untouched when the new set conflicts with another plugin.
func (r *ExtensionRegistry) ReplaceOwner(slug string, regs []Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.byOwner[slug]
	r.deregisterOwnerLocked(slug)
	if err := r.registerAllLocked(regs); err != nil {
		// Cannot conflict: the prior entries held these route keys until the
		// deregister above and the lock has been held throughout.
		_ = r.registerAllLocked(prior)
		return err
	}
	return nil
}

// Lookup returns all registrations of the given kind and name across owners,
// sorted by owner for determinism. For routes, name is the path.
func (r *ExtensionRegistry) Lookup(kind RegistrationKind, name string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, regs := range r.byOwner {
		for _, reg := range regs {
			if reg.Kind == kind && reg.Name == name {
				out = append(out, reg)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// RouteOwner returns the slug owning a route, if registered.
func (r *ExtensionRegistry) RouteOwner(method, path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.routes[routeKey(method, path)]
	return owner, ok
}

// OwnerRegistrations returns a copy of all registrations owned by slug.
func (r *ExtensionRegistry) OwnerRegistrations(slug string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.byOwner[slug]...)
}
