package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quillcms/plugin-engine/pkg/version"
)

// Metrics receives engine observations. internal/metrics provides the
// Prometheus implementation; NopMetrics is used when none is wired.
type Metrics interface {
	ObserveOperation(op string, success bool, duration time.Duration)
	SetActivePlugins(n int)
	IncHealthCheckFailure()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveOperation(string, bool, time.Duration) {}
func (NopMetrics) SetActivePlugins(int)                         {}
func (NopMetrics) IncHealthCheckFailure()                       {}

// EngineConfig configures the lifecycle engine.
type EngineConfig struct {
	// HostVersion is checked against manifest requirements.host ranges.
	HostVersion string
	// ArchiveTimeout bounds blob store reads and writes.
	ArchiveTimeout time.Duration
	// MaxManifestSize caps the decompressed manifest size.
	MaxManifestSize int64
	// HealthCheckTimeout bounds a single plugin health check.
	HealthCheckTimeout time.Duration
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HostVersion:        "1.0.0",
		ArchiveTimeout:     30 * time.Second,
		MaxManifestSize:    DefaultMaxManifestSize,
		HealthCheckTimeout: 5 * time.Second,
	}
}

// Collaborators are the external services the engine drives.
type Collaborators struct {
	Blobs   BlobStore
	Records RecordStore
	Health  HealthChecker
	Purger  DataPurger // optional
}

// Engine is the plugin lifecycle manager. It exclusively owns InstalledPlugin
// state transitions and all mutations of the extension point and capability
// registries.
//
// State-mutating operations serialize per slug; operations on different
// slugs proceed in parallel. When an operation spans several slugs (a forced
// deactivation cascade, activating inactive dependencies) every involved
// lock is acquired in lexical slug order before any mutation, so two
// multi-slug operations can never deadlock against each other.
type Engine struct {
	logger       zerolog.Logger
	cfg          EngineConfig
	metrics      Metrics
	blobs        BlobStore
	records      RecordStore
	checker      HealthChecker
	purger       DataPurger
	validator    *ManifestValidator
	resolver     *Resolver
	capabilities *CapabilityRegistry
	extensions   *ExtensionRegistry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stateMu sync.RWMutex
	plugins map[string]*InstalledPlugin
}

// NewEngine creates a lifecycle engine with its collaborators injected.
// Call LoadInstalled before serving requests to hydrate previously
// persisted plugins.
func NewEngine(logger zerolog.Logger, cfg EngineConfig, collab Collaborators, metrics Metrics) (*Engine, error) {
	if collab.Blobs == nil || collab.Records == nil {
		return nil, fmt.Errorf("blob store and record store are required")
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	def := DefaultEngineConfig()
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = def.ArchiveTimeout
	}
	if cfg.MaxManifestSize <= 0 {
		cfg.MaxManifestSize = def.MaxManifestSize
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if cfg.HostVersion == "" {
		cfg.HostVersion = def.HostVersion
	}

	return &Engine{
		logger:       logger.With().Str("component", "plugin-engine").Logger(),
		cfg:          cfg,
		metrics:      metrics,
		blobs:        collab.Blobs,
		records:      collab.Records,
		checker:      collab.Health,
		purger:       collab.Purger,
		validator:    NewManifestValidator(logger),
		resolver:     NewResolver(logger),
		capabilities: NewCapabilityRegistry(),
		extensions:   NewExtensionRegistry(),
		locks:        make(map[string]*sync.Mutex),
		plugins:      make(map[string]*InstalledPlugin),
	}, nil
}

// LoadInstalled hydrates the in-memory plugin set from the record store.
// Plugins persisted as ACTIVE are re-registered; a registration failure
// (e.g. a route conflict introduced while the engine was down) marks the
// plugin ERROR instead of failing startup.
func (e *Engine) LoadInstalled(ctx context.Context) error {
	records, err := e.records.ListAll(ctx)
	if err != nil {
		return &StoreError{Op: "list", Err: err}
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for _, rec := range records {
		p := rec.Clone()
		// In-flight transitional states from a crashed process settle to
		// their stable side.
		switch p.Status {
		case StatusInstalling, StatusUninstalling:
			continue // never finished installing; record will be re-created
		case StatusActivating, StatusDeactivating, StatusUpdating:
			p.Status = StatusInstalled
			p.ActivatedAt = nil
		}
		if p.Status == StatusActive {
			if err := e.extensions.RegisterAll(buildRegistrations(&p.Manifest)); err != nil {
				e.logger.Error().Err(err).Str("slug", p.Manifest.Name).Msg("Failed to re-register extension points, marking plugin errored")
				p.Status = StatusError
				p.ErrorMessage = err.Error()
				p.ErrorCount++
				p.ActivatedAt = nil
			} else {
				e.capabilities.Grant(p.Manifest.Name, p.Manifest.Capabilities)
			}
		}
		e.plugins[p.Manifest.Name] = p
	}
	e.metrics.SetActivePlugins(e.activeCountLocked())

	e.logger.Info().Int("count", len(e.plugins)).Msg("Loaded installed plugins")
	return nil
}

// slugLock returns the mutex serializing operations for one slug.
func (e *Engine) slugLock(slug string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		e.locks[slug] = l
	}
	return l
}

// lockSlugs acquires the per-slug locks in lexical order and returns the
// release function.
func (e *Engine) lockSlugs(slugs ...string) func() {
	sorted := append([]string(nil), slugs...)
	sort.Strings(sorted)
	locked := make([]*sync.Mutex, 0, len(sorted))
	var prev string
	for i, slug := range sorted {
		if i > 0 && slug == prev {
			continue
		}
		prev = slug
		l := e.slugLock(slug)
		l.Lock()
		locked = append(locked, l)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(locked) - 1; i >= 0; i-- {
				locked[i].Unlock()
			}
		})
	}
}

func (e *Engine) snapshot() map[string]*InstalledPlugin {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make(map[string]*InstalledPlugin, len(e.plugins))
	for k, v := range e.plugins {
		out[k] = v.Clone()
	}
	return out
}

func (e *Engine) getPlugin(slug string) (*InstalledPlugin, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	p, ok := e.plugins[slug]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (e *Engine) setPlugin(p *InstalledPlugin) {
	e.stateMu.Lock()
	e.plugins[p.Manifest.Name] = p.Clone()
	e.metrics.SetActivePlugins(e.activeCountLocked())
	e.stateMu.Unlock()
}

func (e *Engine) removePlugin(slug string) {
	e.stateMu.Lock()
	delete(e.plugins, slug)
	e.metrics.SetActivePlugins(e.activeCountLocked())
	e.stateMu.Unlock()
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, p := range e.plugins {
		if p.Status == StatusActive {
			n++
		}
	}
	return n
}

func (e *Engine) persist(ctx context.Context, p *InstalledPlugin) error {
	if err := e.records.Save(ctx, p); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	e.setPlugin(p)
	return nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.ObserveOperation(op, err == nil, time.Since(start))
}

func (e *Engine) opLogger(op string) zerolog.Logger {
	return e.logger.With().Str("op", op).Str("op_id", uuid.NewString()).Logger()
}

// Install unpacks and validates an archive, persists the plugin as
// INSTALLED, and stores the archive in the blob store. All-or-nothing: any
// failure removes whatever was partially written.
func (e *Engine) Install(ctx context.Context, archive []byte, opts InstallOptions) (result *InstallResult, err error) {
	start := time.Now()
	defer func() { e.observe("install", start, err) }()
	log := e.opLogger("install")

	manifestBytes, aerr := ReadManifestFromArchive(archive, e.cfg.MaxManifestSize)
	if aerr != nil {
		return nil, &ManifestError{Errors: []ValidationError{{Message: aerr.Error()}}}
	}
	manifest, err := e.validator.Validate(manifestBytes)
	if err != nil {
		return nil, err
	}
	if err := e.checkHostRequirement(manifest); err != nil {
		return nil, err
	}
	slug := manifest.Name

	unlock := e.lockSlugs(slug)
	defer unlock()

	if existing, ok := e.getPlugin(slug); ok {
		if !opts.Overwrite {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, slug)
		}
		// Overwrite is uninstall-then-install; prior settings and resolved
		// dependencies are reset. The caller must deactivate first.
		if existing.Status == StatusActive {
			return nil, fmt.Errorf("%w: %s (deactivate before overwriting)", ErrPluginActive, slug)
		}
		if err := e.removeInstalled(ctx, existing, false, log); err != nil {
			return nil, err
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}

	rec := &InstalledPlugin{
		Manifest:     *manifest,
		Status:       StatusInstalling,
		InstalledAt:  time.Now(),
		FileChecksum: Checksum(archive),
		ArchivePath:  archivePath(slug),
	}

	putCtx, cancel := context.WithTimeout(ctx, e.cfg.ArchiveTimeout)
	defer cancel()
	if serr := e.blobs.Put(putCtx, rec.ArchivePath, archive); serr != nil {
		return nil, &StoreError{Op: "put", Err: serr}
	}

	rec.Status = StatusInstalled
	if perr := e.persist(ctx, rec); perr != nil {
		if derr := e.blobs.Delete(ctx, rec.ArchivePath); derr != nil {
			log.Error().Err(derr).Str("slug", slug).Msg("Failed to remove archive while rolling back install")
		}
		return nil, perr
	}

	warnings := e.validator.Warnings(manifest)
	log.Info().Str("slug", slug).Str("version", manifest.Version).Msg("Plugin installed")

	if opts.Activate {
		unlock()
		activateWarnings, aerr := e.Activate(ctx, slug)
		warnings = append(warnings, activateWarnings...)
		if aerr != nil {
			p, _ := e.getPlugin(slug)
			return &InstallResult{Plugin: p, Warnings: warnings}, aerr
		}
	}

	p, _ := e.getPlugin(slug)
	return &InstallResult{Plugin: p, Warnings: warnings}, nil
}

// Activate resolves the plugin's dependencies against the installed set and,
// if clean, atomically registers its extension points and grants its
// capabilities. Inactive dependencies are activated first, in dependency
// order. Activating an ACTIVE plugin is a no-op.
func (e *Engine) Activate(ctx context.Context, slug string) (warnings []string, err error) {
	start := time.Now()
	defer func() { e.observe("activate", start, err) }()
	log := e.opLogger("activate")

	target, ok := e.getPlugin(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if target.Status == StatusActive {
		return nil, nil
	}
	if target.Status != StatusInstalled {
		return nil, &TransitionError{Slug: slug, From: target.Status, Op: "activate"}
	}

	res, err := e.resolver.Resolve(&target.Manifest, e.snapshot())
	if err != nil {
		return nil, err
	}
	if len(res.Missing) > 0 || len(res.Conflicts) > 0 {
		return nil, &DependencyError{Missing: res.Missing, Conflicts: res.Conflicts}
	}

	unlock := e.lockSlugs(res.Order...)
	defer unlock()

	// Re-resolve now that every involved slug is locked. A clean resolution's
	// slug set is transitively closed, so it cannot grow between the two
	// passes; it can only become unsatisfied.
	snapshot := e.snapshot()
	target, ok = snapshot[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if target.Status == StatusActive {
		return nil, nil
	}
	res, err = e.resolver.Resolve(&target.Manifest, snapshot)
	if err != nil {
		return nil, err
	}
	if len(res.Missing) > 0 || len(res.Conflicts) > 0 {
		return nil, &DependencyError{Missing: res.Missing, Conflicts: res.Conflicts}
	}

	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}

	// A dependency sitting in ERROR (or any other non-activatable state)
	// blocks activation; it must be cleared and activated explicitly.
	var blocked []string
	for _, s := range res.Order {
		if p, ok := snapshot[s]; ok && p.Status != StatusInstalled && p.Status != StatusActive {
			blocked = append(blocked, s)
		}
	}
	if len(blocked) > 0 {
		return nil, &DependencyError{Missing: blocked}
	}

	var activated []string
	rollback := func() {
		for i := len(activated) - 1; i >= 0; i-- {
			s := activated[i]
			e.extensions.DeregisterOwner(s)
			e.capabilities.Revoke(s)
			p, ok := e.getPlugin(s)
			if !ok {
				continue
			}
			p.Status = StatusInstalled
			p.ActivatedAt = nil
			if perr := e.persist(ctx, p); perr != nil {
				log.Error().Err(perr).Str("slug", s).Msg("Failed to persist rollback to installed")
			}
		}
	}

	for _, s := range res.Order {
		p, ok := snapshot[s]
		if !ok || p.Status == StatusActive {
			continue
		}
		if aerr := e.activateOne(ctx, p.Clone(), snapshot, log); aerr != nil {
			rollback()
			return nil, aerr
		}
		activated = append(activated, s)
	}

	for _, missing := range res.OptionalMissing {
		warnings = append(warnings, fmt.Sprintf("optional dependency %q is not installed", missing))
	}

	log.Info().Str("slug", slug).Strs("activated", activated).Msg("Plugin activated")
	return warnings, nil
}

// activateOne registers a single plugin's extension points and grants its
// capabilities. The caller holds the slug lock and handles rollback.
func (e *Engine) activateOne(ctx context.Context, p *InstalledPlugin, installed map[string]*InstalledPlugin, log zerolog.Logger) error {
	slug := p.Manifest.Name

	p.Status = StatusActivating
	if err := e.persist(ctx, p); err != nil {
		return err
	}

	if err := e.extensions.RegisterAll(buildRegistrations(&p.Manifest)); err != nil {
		p.Status = StatusInstalled
		if perr := e.persist(ctx, p); perr != nil {
			log.Error().Err(perr).Str("slug", slug).Msg("Failed to persist return to installed after registration failure")
		}
		return err
	}
	e.capabilities.Grant(slug, p.Manifest.Capabilities)

	p.ResolvedDependencies = resolvedVersions(&p.Manifest, installed)
	now := time.Now()
	p.ActivatedAt = &now
	p.Status = StatusActive
	if err := e.persist(ctx, p); err != nil {
		e.extensions.DeregisterOwner(slug)
		e.capabilities.Revoke(slug)
		p.Status = StatusInstalled
		p.ActivatedAt = nil
		if perr := e.persist(ctx, p); perr != nil {
			log.Error().Err(perr).Str("slug", slug).Msg("Failed to persist return to installed after save failure")
		}
		return err
	}
	return nil
}

// Deactivate returns an ACTIVE plugin to INSTALLED, deregistering its
// extension points and revoking its capabilities atomically. Deactivating an
// already-INSTALLED plugin is a no-op. With Force, ACTIVE dependents are
// deactivated first, deepest dependent first; without it, active hard
// dependents fail the call with *DependentsError.
//
// Each plugin's step is atomic but the forced cascade as a whole is not: a
// store failure stops the walk, dependents already deactivated stay
// INSTALLED and are returned, and everything later in the order (slug
// included) stays ACTIVE. No plugin is ever left active ahead of a hard
// dependency, so the error is retryable and a retry resumes where the walk
// stopped.
func (e *Engine) Deactivate(ctx context.Context, slug string, opts DeactivateOptions) (deactivated []string, err error) {
	start := time.Now()
	defer func() { e.observe("deactivate", start, err) }()
	log := e.opLogger("deactivate")

	target, ok := e.getPlugin(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if target.Status == StatusInstalled {
		return nil, nil
	}
	if target.Status != StatusActive {
		return nil, &TransitionError{Slug: slug, From: target.Status, Op: "deactivate"}
	}

	snapshot := e.snapshot()
	cascade := e.resolver.DeactivationOrder(slug, snapshot)
	if len(cascade) > 0 && !opts.Force {
		return nil, &DependentsError{Dependents: e.resolver.Dependents(slug, snapshot, true)}
	}

	lockSet := append(append([]string(nil), cascade...), slug)
	unlock := e.lockSlugs(lockSet...)
	defer unlock()

	snapshot = e.snapshot()
	target, ok = snapshot[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if target.Status == StatusInstalled {
		return nil, nil
	}
	if target.Status != StatusActive {
		return nil, &TransitionError{Slug: slug, From: target.Status, Op: "deactivate"}
	}
	cascade = e.resolver.DeactivationOrder(slug, snapshot)
	if !subsetOf(cascade, lockSet) {
		// A plugin depending on slug activated between the two snapshots.
		// Its lock is not held, so give up and let the caller retry.
		return nil, &StoreError{Op: "resolve", Err: errors.New("active set changed during deactivation")}
	}
	if len(cascade) > 0 && !opts.Force {
		return nil, &DependentsError{Dependents: e.resolver.Dependents(slug, snapshot, true)}
	}

	for _, s := range cascade {
		p := snapshot[s]
		if p == nil || p.Status != StatusActive {
			continue
		}
		if derr := e.deactivateOne(ctx, p.Clone(), log); derr != nil {
			return deactivated, derr
		}
		deactivated = append(deactivated, s)
	}
	if derr := e.deactivateOne(ctx, target.Clone(), log); derr != nil {
		return deactivated, derr
	}

	log.Info().Str("slug", slug).Strs("dependents_deactivated", deactivated).Msg("Plugin deactivated")
	return deactivated, nil
}

// deactivateOne unwires a single ACTIVE plugin. The caller holds the slug lock.
func (e *Engine) deactivateOne(ctx context.Context, p *InstalledPlugin, log zerolog.Logger) error {
	slug := p.Manifest.Name

	p.Status = StatusDeactivating
	if err := e.persist(ctx, p); err != nil {
		p.Status = StatusActive
		e.setPlugin(p)
		return err
	}

	regs := e.extensions.OwnerRegistrations(slug)
	e.extensions.DeregisterOwner(slug)
	e.capabilities.Revoke(slug)

	activatedAt := p.ActivatedAt
	p.Status = StatusInstalled
	p.ActivatedAt = nil
	if err := e.persist(ctx, p); err != nil {
		// Rewire and restore ACTIVE so no dangling half-state remains.
		if rerr := e.extensions.RegisterAll(regs); rerr != nil {
			log.Error().Err(rerr).Str("slug", slug).Msg("Failed to restore extension points after save failure")
		}
		e.capabilities.Grant(slug, p.Manifest.Capabilities)
		p.Status = StatusActive
		p.ActivatedAt = activatedAt
		e.setPlugin(p)
		return err
	}
	return nil
}

// Update replaces a plugin's archive and manifest in one operation. If the
// plugin is ACTIVE its extension points are re-registered by diffing old and
// new sets with no wider gap than this single call. On any failure the prior
// manifest, archive, and registrations are restored unchanged.
func (e *Engine) Update(ctx context.Context, slug string, archive []byte, opts UpdateOptions) (result *UpdateResult, err error) {
	start := time.Now()
	defer func() { e.observe("update", start, err) }()
	log := e.opLogger("update")

	manifestBytes, aerr := ReadManifestFromArchive(archive, e.cfg.MaxManifestSize)
	if aerr != nil {
		return nil, &ManifestError{Errors: []ValidationError{{Message: aerr.Error()}}}
	}
	newManifest, err := e.validator.Validate(manifestBytes)
	if err != nil {
		return nil, err
	}
	if newManifest.Name != slug {
		return nil, &ManifestError{Errors: []ValidationError{{
			Field:   "name",
			Message: fmt.Sprintf("archive manifest is for %q, not %q", newManifest.Name, slug),
		}}}
	}
	if err := e.checkHostRequirement(newManifest); err != nil {
		return nil, err
	}

	unlock := e.lockSlugs(slug)
	defer unlock()

	prior, ok := e.getPlugin(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if prior.Status != StatusInstalled && prior.Status != StatusActive {
		return nil, &TransitionError{Slug: slug, From: prior.Status, Op: "update"}
	}
	wasActive := prior.Status == StatusActive

	snapshot := e.snapshot()
	res, err := e.resolver.Resolve(newManifest, snapshot)
	if err != nil {
		return nil, err
	}
	missing := append([]string(nil), res.Missing...)
	if wasActive {
		// An active plugin's hard dependencies must already be active; Update
		// never activates other plugins.
		for _, s := range res.Order {
			if s == slug {
				continue
			}
			if p, ok := snapshot[s]; ok && p.Status != StatusActive {
				missing = appendUnique(missing, s)
			}
		}
		sort.Strings(missing)
	}
	if len(missing) > 0 || len(res.Conflicts) > 0 {
		return nil, &DependencyError{Missing: missing, Conflicts: res.Conflicts}
	}

	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}

	updating := prior.Clone()
	updating.Status = StatusUpdating
	if perr := e.persist(ctx, updating); perr != nil {
		return nil, perr
	}
	restoreStatus := func() {
		restored := prior.Clone()
		if perr := e.persist(ctx, restored); perr != nil {
			log.Error().Err(perr).Str("slug", slug).Msg("Failed to restore prior record after update failure")
		}
	}

	getCtx, cancel := context.WithTimeout(ctx, e.cfg.ArchiveTimeout)
	oldArchive, gerr := e.blobs.Get(getCtx, prior.ArchivePath)
	cancel()
	if gerr != nil {
		restoreStatus()
		return nil, &StoreError{Op: "get", Err: gerr}
	}

	if opts.Backup {
		if berr := e.blobs.Put(ctx, prior.ArchivePath+".bak", oldArchive); berr != nil {
			restoreStatus()
			return nil, &StoreError{Op: "put", Err: berr}
		}
	}

	putCtx, cancel := context.WithTimeout(ctx, e.cfg.ArchiveTimeout)
	perr := e.blobs.Put(putCtx, prior.ArchivePath, archive)
	cancel()
	if perr != nil {
		restoreStatus()
		return nil, &StoreError{Op: "put", Err: perr}
	}
	restoreArchive := func() {
		if rerr := e.blobs.Put(ctx, prior.ArchivePath, oldArchive); rerr != nil {
			log.Error().Err(rerr).Str("slug", slug).Msg("Failed to restore prior archive after update failure")
		}
	}

	if wasActive {
		if rerr := e.extensions.ReplaceOwner(slug, buildRegistrations(newManifest)); rerr != nil {
			restoreArchive()
			restoreStatus()
			return nil, rerr
		}
		e.capabilities.Grant(slug, newManifest.Capabilities)
	}

	updated := prior.Clone()
	updated.Manifest = *newManifest
	updated.FileChecksum = Checksum(archive)
	updated.Status = prior.Status
	updated.ResolvedDependencies = resolvedVersions(newManifest, snapshot)
	if serr := e.persist(ctx, updated); serr != nil {
		if wasActive {
			if rerr := e.extensions.ReplaceOwner(slug, buildRegistrations(&prior.Manifest)); rerr != nil {
				log.Error().Err(rerr).Str("slug", slug).Msg("Failed to restore prior extension points after update failure")
			}
			e.capabilities.Grant(slug, prior.Manifest.Capabilities)
		}
		restoreArchive()
		restoreStatus()
		return nil, serr
	}

	changelog := buildChangelog(&prior.Manifest, newManifest)
	log.Info().Str("slug", slug).Str("from", prior.Manifest.Version).Str("to", newManifest.Version).Msg("Plugin updated")

	p, _ := e.getPlugin(slug)
	return &UpdateResult{Plugin: p, Changelog: changelog}, nil
}

// Uninstall removes a plugin's archive and record. The plugin must not be
// ACTIVE unless Force is set, in which case it (and its dependents) are
// deactivated first. With RemoveData, data-namespace removal is signaled to
// the purger collaborator; purge failures are logged, never propagated.
func (e *Engine) Uninstall(ctx context.Context, slug string, opts UninstallOptions) (err error) {
	start := time.Now()
	defer func() { e.observe("uninstall", start, err) }()
	log := e.opLogger("uninstall")

	target, ok := e.getPlugin(slug)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if target.Status == StatusActive {
		if !opts.Force {
			return fmt.Errorf("%w: %s (deactivate first or pass force)", ErrPluginActive, slug)
		}
		if _, derr := e.Deactivate(ctx, slug, DeactivateOptions{Force: true}); derr != nil {
			return derr
		}
	}

	unlock := e.lockSlugs(slug)
	defer unlock()

	target, ok = e.getPlugin(slug)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if target.Status != StatusInstalled && target.Status != StatusError {
		return &TransitionError{Slug: slug, From: target.Status, Op: "uninstall"}
	}

	if err := e.removeInstalled(ctx, target, opts.RemoveData, log); err != nil {
		return err
	}

	log.Info().Str("slug", slug).Msg("Plugin uninstalled")
	return nil
}

// removeInstalled deletes the archive and record for a non-active plugin.
// The caller holds the slug lock.
func (e *Engine) removeInstalled(ctx context.Context, target *InstalledPlugin, removeData bool, log zerolog.Logger) error {
	slug := target.Manifest.Name

	uninstalling := target.Clone()
	uninstalling.Status = StatusUninstalling
	if perr := e.persist(ctx, uninstalling); perr != nil {
		return perr
	}
	restoreStatus := func() {
		if perr := e.persist(ctx, target.Clone()); perr != nil {
			log.Error().Err(perr).Str("slug", slug).Msg("Failed to restore record after uninstall failure")
		}
	}

	// Keep the archive bytes so a record-delete failure can restore it.
	getCtx, cancel := context.WithTimeout(ctx, e.cfg.ArchiveTimeout)
	oldArchive, gerr := e.blobs.Get(getCtx, target.ArchivePath)
	cancel()
	if gerr != nil && !errors.Is(gerr, ErrNotFound) {
		restoreStatus()
		return &StoreError{Op: "get", Err: gerr}
	}

	if derr := e.blobs.Delete(ctx, target.ArchivePath); derr != nil {
		restoreStatus()
		return &StoreError{Op: "delete", Err: derr}
	}
	if derr := e.records.Delete(ctx, slug); derr != nil {
		if oldArchive != nil {
			if rerr := e.blobs.Put(ctx, target.ArchivePath, oldArchive); rerr != nil {
				log.Error().Err(rerr).Str("slug", slug).Msg("Failed to restore archive after record delete failure")
			}
		}
		restoreStatus()
		return &StoreError{Op: "delete", Err: derr}
	}
	e.removePlugin(slug)

	if removeData && e.purger != nil {
		if perr := e.purger.Purge(ctx, slug); perr != nil {
			log.Error().Err(perr).Str("slug", slug).Msg("Plugin data purge failed")
		}
	}
	return nil
}

// MarkError transitions an ACTIVATING, ACTIVE, or UPDATING plugin to ERROR,
// deregistering its extension points since erroring plugin code is unsafe to
// keep wired. Marking an already-ERROR plugin again is a no-op.
func (e *Engine) MarkError(ctx context.Context, slug, reason string) (err error) {
	start := time.Now()
	defer func() { e.observe("mark_error", start, err) }()
	log := e.opLogger("mark_error")

	unlock := e.lockSlugs(slug)
	defer unlock()

	p, ok := e.getPlugin(slug)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	switch p.Status {
	case StatusError:
		return nil
	case StatusActive, StatusActivating, StatusUpdating:
	default:
		return &TransitionError{Slug: slug, From: p.Status, Op: "mark errored"}
	}

	regs := e.extensions.OwnerRegistrations(slug)
	e.extensions.DeregisterOwner(slug)
	e.capabilities.Revoke(slug)

	prior := p.Clone()
	p.Status = StatusError
	p.ErrorMessage = reason
	p.ErrorCount++
	p.ActivatedAt = nil
	if perr := e.persist(ctx, p); perr != nil {
		if rerr := e.extensions.RegisterAll(regs); rerr != nil {
			log.Error().Err(rerr).Str("slug", slug).Msg("Failed to restore extension points after save failure")
		}
		if prior.Status == StatusActive {
			e.capabilities.Grant(slug, p.Manifest.Capabilities)
		}
		e.setPlugin(prior)
		return perr
	}

	log.Warn().Str("slug", slug).Str("reason", reason).Int("error_count", p.ErrorCount).Msg("Plugin marked errored")
	return nil
}

// ClearError returns an ERROR plugin to INSTALLED. Re-activation must go
// through Activate so dependencies are re-checked.
func (e *Engine) ClearError(ctx context.Context, slug string) (err error) {
	start := time.Now()
	defer func() { e.observe("clear_error", start, err) }()

	unlock := e.lockSlugs(slug)
	defer unlock()

	p, ok := e.getPlugin(slug)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if p.Status != StatusError {
		return &TransitionError{Slug: slug, From: p.Status, Op: "clear error on"}
	}

	p.Status = StatusInstalled
	p.ErrorMessage = ""
	return e.persist(ctx, p)
}

// GetDependencyGraph reports a plugin's dependencies with their resolved
// versions, its installed dependents, and any missing or conflicting edges.
func (e *Engine) GetDependencyGraph(slug string) (*DependencyReport, error) {
	target, ok := e.getPlugin(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}

	snapshot := e.snapshot()
	report := &DependencyReport{
		Dependencies: make(map[string]string, len(target.Manifest.Dependencies)),
		Dependents:   e.resolver.Dependents(slug, snapshot, false),
	}

	res, err := e.resolver.Resolve(&target.Manifest, snapshot)
	if err != nil {
		return nil, err
	}
	report.Missing = res.Missing
	report.Conflicts = res.Conflicts

	for _, dep := range target.Manifest.Dependencies {
		if inst, ok := snapshot[dep.Name]; ok {
			report.Dependencies[dep.Name] = inst.Manifest.Version
		} else {
			report.Dependencies[dep.Name] = ""
		}
	}
	return report, nil
}

// ListExtensionPoints returns the live registrations owned by slug, grouped
// by kind. Non-empty only while the plugin is ACTIVE.
func (e *Engine) ListExtensionPoints(slug string) (*ExtensionPoints, error) {
	if _, ok := e.getPlugin(slug); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}

	points := &ExtensionPoints{}
	for _, reg := range e.extensions.OwnerRegistrations(slug) {
		switch reg.Kind {
		case KindHook:
			points.Hooks = append(points.Hooks, reg)
		case KindFilter:
			points.Filters = append(points.Filters, reg)
		case KindRoute:
			points.Routes = append(points.Routes, reg)
		}
	}
	return points, nil
}

// RunHealthCheck invokes the plugin's declared health check with the
// configured timeout. The plugin must be ACTIVE. Timeouts and check errors
// surface as an unhealthy report, not as an error return.
func (e *Engine) RunHealthCheck(ctx context.Context, slug string) (*HealthReport, error) {
	p, ok := e.getPlugin(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if p.Status != StatusActive {
		return nil, &TransitionError{Slug: slug, From: p.Status, Op: "health-check"}
	}
	if e.checker == nil {
		return &HealthReport{Healthy: true}, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.HealthCheckTimeout)
	defer cancel()
	healthy, issues, err := e.checker.Check(checkCtx, slug)
	if err != nil {
		e.metrics.IncHealthCheckFailure()
		return &HealthReport{Healthy: false, Issues: []string{err.Error()}}, nil
	}
	if !healthy {
		e.metrics.IncHealthCheckFailure()
	}
	return &HealthReport{Healthy: healthy, Issues: issues}, nil
}

// Get returns a copy of the installed plugin record for slug.
func (e *Engine) Get(slug string) (*InstalledPlugin, error) {
	p, ok := e.getPlugin(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return p, nil
}

// List returns copies of all installed plugin records, sorted by slug.
func (e *Engine) List() []*InstalledPlugin {
	snapshot := e.snapshot()
	out := make([]*InstalledPlugin, 0, len(snapshot))
	for _, p := range snapshot {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// ActiveSlugs returns the slugs of all ACTIVE plugins, sorted.
func (e *Engine) ActiveSlugs() []string {
	var out []string
	for _, p := range e.List() {
		if p.Status == StatusActive {
			out = append(out, p.Manifest.Name)
		}
	}
	return out
}

func (e *Engine) checkHostRequirement(m *Manifest) error {
	if m.Requirements.Host == "" {
		return nil
	}
	ok, err := version.Satisfies(e.cfg.HostVersion, m.Requirements.Host)
	if err != nil || !ok {
		return &ManifestError{Errors: []ValidationError{{
			Field:   "requirements.host",
			Message: fmt.Sprintf("host version %s does not satisfy required range %q", e.cfg.HostVersion, m.Requirements.Host),
		}}}
	}
	return nil
}

func archivePath(slug string) string {
	return "plugins/" + slug + ".zip"
}

// buildRegistrations expands a manifest's declared extension points into
// registry entries.
func buildRegistrations(m *Manifest) []Registration {
	regs := make([]Registration, 0, len(m.Hooks)+len(m.Filters)+len(m.Routes))
	for _, h := range m.Hooks {
		regs = append(regs, Registration{Kind: KindHook, Name: h, Owner: m.Name})
	}
	for _, f := range m.Filters {
		regs = append(regs, Registration{Kind: KindFilter, Name: f, Owner: m.Name})
	}
	for _, r := range m.Routes {
		regs = append(regs, Registration{
			Kind:               KindRoute,
			Name:               r.Path,
			Method:             r.Method,
			Handler:            r.Handler,
			Owner:              m.Name,
			RequiredCapability: r.RequiredCapability,
		})
	}
	return regs
}

// resolvedVersions records which installed version satisfies each declared
// dependency at resolution time.
func resolvedVersions(m *Manifest, installed map[string]*InstalledPlugin) map[string]string {
	if len(m.Dependencies) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if inst, ok := installed[dep.Name]; ok {
			out[dep.Name] = inst.Manifest.Version
		}
	}
	return out
}

// buildChangelog summarizes the differences between two manifests.
func buildChangelog(oldM, newM *Manifest) []string {
	var log []string

	if kind, err := version.Bump(oldM.Version, newM.Version); err == nil && kind != version.BumpNone {
		log = append(log, fmt.Sprintf("version: %s -> %s (%s)", oldM.Version, newM.Version, kind))
	}

	log = append(log, diffStrings("hook", oldM.Hooks, newM.Hooks)...)
	log = append(log, diffStrings("filter", oldM.Filters, newM.Filters)...)
	log = append(log, diffStrings("capability", capStrings(oldM.Capabilities), capStrings(newM.Capabilities))...)

	oldRoutes := routeStrings(oldM.Routes)
	newRoutes := routeStrings(newM.Routes)
	log = append(log, diffStrings("route", oldRoutes, newRoutes)...)

	return log
}

func diffStrings(kind string, oldList, newList []string) []string {
	oldSet := make(map[string]bool, len(oldList))
	for _, s := range oldList {
		oldSet[s] = true
	}
	newSet := make(map[string]bool, len(newList))
	for _, s := range newList {
		newSet[s] = true
	}

	var out []string
	for _, s := range newList {
		if !oldSet[s] {
			out = append(out, fmt.Sprintf("added %s %s", kind, s))
		}
	}
	for _, s := range oldList {
		if !newSet[s] {
			out = append(out, fmt.Sprintf("removed %s %s", kind, s))
		}
	}
	return out
}

func capStrings(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

func routeStrings(routes []RouteSpec) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.Method + " " + r.Path
	}
	return out
}

func subsetOf(sub, super []string) bool {
	set := make(map[string]bool, len(super))
	for _, s := range super {
		set[s] = true
	}
	for _, s := range sub {
		if !set[s] {
			return false
		}
	}
	return true
}
