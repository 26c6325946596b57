package plugin

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/quillcms/plugin-engine/pkg/version"
)

// Resolver computes whether a plugin's declared dependencies are satisfied
// by the currently installed set, and in what order plugins must activate.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a new dependency resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// Resolve checks target's dependency graph against the installed set.
//
// A cycle fails the whole resolution with *CycleError. Unsatisfied edges are
// collected rather than failed fast: dependencies that are not installed go
// into Missing, installed-but-wrong-version ones into Conflicts, so the
// caller can report every problem at once. When both are empty, Order holds
// the target and its not-yet-active dependencies with dependencies before
// dependents, ties broken lexically for determinism.
func (r *Resolver) Resolve(target *Manifest, installed map[string]*InstalledPlugin) (*Resolution, error) {
	res := &Resolution{}

	// Gather the transitive closure of hard dependencies that are installed.
	// Dependencies of dependencies are known because a dependency must itself
	// be installed before anything can depend on it.
	nodes := map[string]*Manifest{target.Name: target}
	queue := []*Manifest{target}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		for _, dep := range m.Dependencies {
			if dep.Optional {
				if _, ok := installed[dep.Name]; !ok {
					res.OptionalMissing = appendUnique(res.OptionalMissing, dep.Name)
				}
				continue
			}
			inst, ok := installed[dep.Name]
			if !ok {
				res.Missing = appendUnique(res.Missing, dep.Name)
				continue
			}
			ok2, err := version.Satisfies(inst.Manifest.Version, dep.Range)
			if err != nil || !ok2 {
				if !hasConflict(res.Conflicts, dep.Name) {
					res.Conflicts = append(res.Conflicts, VersionConflict{
						Name:      dep.Name,
						Required:  dep.Range,
						Installed: inst.Manifest.Version,
					})
				}
				continue
			}
			if _, seen := nodes[dep.Name]; !seen {
				m := inst.Manifest.Clone()
				nodes[dep.Name] = &m
				queue = append(queue, &m)
			}
		}
	}

	if cycle := findCycle(nodes); cycle != nil {
		r.logger.Warn().Strs("cycle", cycle).Msg("Dependency cycle detected")
		return nil, &CycleError{Cycle: cycle}
	}

	sort.Strings(res.Missing)
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Name < res.Conflicts[j].Name })
	sort.Strings(res.OptionalMissing)

	if len(res.Missing) > 0 || len(res.Conflicts) > 0 {
		return res, nil
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}
	// Only plugins that still need activating belong in the order.
	for _, slug := range order {
		if slug == target.Name {
			res.Order = append(res.Order, slug)
			continue
		}
		if inst, ok := installed[slug]; ok && inst.Status != StatusActive {
			res.Order = append(res.Order, slug)
		}
	}

	r.logger.Debug().
		Str("target", target.Name).
		Strs("order", res.Order).
		Msg("Resolved dependencies")

	return res, nil
}

// findCycle runs a three-color DFS over the hard-dependency edges restricted
// to nodes. It returns the first cycle found, or nil.
func findCycle(nodes map[string]*Manifest) []string {
	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // fully explored
	)
	color := make(map[string]int, len(nodes))
	var path []string
	var cycle []string

	var dfs func(slug string) bool
	dfs = func(slug string) bool {
		color[slug] = gray
		path = append(path, slug)

		for _, dep := range sortedDeps(nodes[slug]) {
			if _, ok := nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case white:
				if dfs(dep) {
					return true
				}
			case gray:
				start := 0
				for i, s := range path {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append([]string(nil), path[start:]...)
				return true
			}
		}

		path = path[:len(path)-1]
		color[slug] = black
		return false
	}

	for _, slug := range sortedSlugs(nodes) {
		if color[slug] == white {
			if dfs(slug) {
				return cycle
			}
		}
	}
	return nil
}

// topoSort orders nodes with dependencies before dependents. Ready nodes are
// taken in lexical order so the result is deterministic.
func topoSort(nodes map[string]*Manifest) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for slug := range nodes {
		indegree[slug] = 0
	}
	for slug, m := range nodes {
		for _, dep := range sortedDeps(m) {
			if _, ok := nodes[dep]; !ok {
				continue
			}
			indegree[slug]++
			dependents[dep] = append(dependents[dep], slug)
		}
	}

	var ready []string
	for slug, deg := range indegree {
		if deg == 0 {
			ready = append(ready, slug)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		slug := ready[0]
		ready = ready[1:]
		order = append(order, slug)
		changed := false
		for _, dependent := range dependents[slug] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) != len(nodes) {
		// Unreachable after findCycle, kept as a guard.
		return nil, &CycleError{Cycle: sortedSlugs(nodes)}
	}
	return order, nil
}

// Dependents returns the installed plugins that declare a hard dependency
// on slug, optionally restricted to ACTIVE ones. Sorted for determinism.
func (r *Resolver) Dependents(slug string, installed map[string]*InstalledPlugin, activeOnly bool) []string {
	var out []string
	for name, inst := range installed {
		if activeOnly && inst.Status != StatusActive {
			continue
		}
		for _, dep := range inst.Manifest.Dependencies {
			if dep.Name == slug && !dep.Optional {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// DeactivationOrder returns the ACTIVE transitive dependents of slug,
// deepest dependent first, so a forced deactivation can unwind them before
// touching slug itself.
func (r *Resolver) DeactivationOrder(slug string, installed map[string]*InstalledPlugin) []string {
	// Collect active plugins reachable via reverse hard edges.
	reachable := map[string]bool{}
	queue := []string{slug}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range r.Dependents(cur, installed, true) {
			if !reachable[dependent] {
				reachable[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}
	if len(reachable) == 0 {
		return nil
	}

	nodes := make(map[string]*Manifest, len(reachable))
	for name := range reachable {
		m := installed[name].Manifest.Clone()
		nodes[name] = &m
	}
	order, err := topoSort(nodes)
	if err != nil {
		// Cycles cannot exist among activated plugins; fall back to lexical.
		order = sortedSlugs(nodes)
	}
	// topoSort puts dependencies first; deactivation wants dependents first.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func sortedDeps(m *Manifest) []string {
	deps := make([]string, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if !dep.Optional {
			deps = append(deps, dep.Name)
		}
	}
	sort.Strings(deps)
	return deps
}

func sortedSlugs(nodes map[string]*Manifest) []string {
	slugs := make([]string, 0, len(nodes))
	for slug := range nodes {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func hasConflict(list []VersionConflict, name string) bool {
	for _, c := range list {
		if c.Name == name {
			return true
		}
	}
	return false
}
