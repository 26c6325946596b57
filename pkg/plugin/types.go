package plugin

import (
	"time"
)

// Status represents the lifecycle state of an installed plugin.
type Status string

const (
	StatusInstalling   Status = "installing"
	StatusInstalled    Status = "installed"
	StatusActivating   Status = "activating"
	StatusActive       Status = "active"
	StatusDeactivating Status = "deactivating"
	StatusUpdating     Status = "updating"
	StatusError        Status = "error"
	StatusUninstalling Status = "uninstalling"
)

// Capability represents a permission a plugin declares it needs.
type Capability string

const (
	CapabilityContentRead    Capability = "content:read"
	CapabilityContentWrite   Capability = "content:write"
	CapabilityMediaRead      Capability = "media:read"
	CapabilityMediaWrite     Capability = "media:write"
	CapabilityUsersRead      Capability = "users:read"
	CapabilityUsersWrite     Capability = "users:write"
	CapabilitySettingsRead   Capability = "settings:read"
	CapabilitySettingsWrite  Capability = "settings:write"
	CapabilityThemesManage   Capability = "themes:manage"
	CapabilityRoutesRegister Capability = "routes:register"
	CapabilityCacheManage    Capability = "cache:manage"
	CapabilityEmailSend      Capability = "email:send"
)

// ValidCapabilities is the set of all recognized capabilities.
var ValidCapabilities = map[Capability]bool{
	CapabilityContentRead:    true,
	CapabilityContentWrite:   true,
	CapabilityMediaRead:      true,
	CapabilityMediaWrite:     true,
	CapabilityUsersRead:      true,
	CapabilityUsersWrite:     true,
	CapabilitySettingsRead:   true,
	CapabilitySettingsWrite:  true,
	CapabilityThemesManage:   true,
	CapabilityRoutesRegister: true,
	CapabilityCacheManage:    true,
	CapabilityEmailSend:      true,
}

// Manifest represents the plugin.json file carried in a plugin archive.
type Manifest struct {
	Name         string       `json:"name"` // unique slug
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	Author       string       `json:"author,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Hooks        []string     `json:"hooks,omitempty"`
	Filters      []string     `json:"filters,omitempty"`
	Routes       []RouteSpec  `json:"routes,omitempty"`
	Requirements Requirements `json:"requirements,omitempty"`
}

// Dependency declares a requirement on another installed plugin.
type Dependency struct {
	Name     string `json:"name"`
	Range    string `json:"range"` // semver constraint, e.g. ^1.0.0
	Optional bool   `json:"optional,omitempty"`
}

// RouteSpec declares an HTTP route contributed by a plugin.
type RouteSpec struct {
	Path               string     `json:"path"`
	Method             string     `json:"method"`
	Handler            string     `json:"handler"`
	RequiredCapability Capability `json:"requiredCapability,omitempty"`
}

// Requirements declares host constraints for a plugin.
type Requirements struct {
	Host string `json:"host,omitempty"` // semver range on the host version
}

// InstalledPlugin is the mutable record tracked for each installed slug.
type InstalledPlugin struct {
	Manifest             Manifest          `json:"manifest"`
	Status               Status            `json:"status"`
	InstalledAt          time.Time         `json:"installedAt"`
	ActivatedAt          *time.Time        `json:"activatedAt,omitempty"`
	ErrorMessage         string            `json:"errorMessage,omitempty"`
	ErrorCount           int               `json:"errorCount"`
	FileChecksum         string            `json:"fileChecksum"`
	ArchivePath          string            `json:"archivePath"`
	ResolvedDependencies map[string]string `json:"resolvedDependencies,omitempty"` // slug -> installed version
}

// Clone returns a deep copy, used for snapshot-based rollback.
func (p *InstalledPlugin) Clone() *InstalledPlugin {
	c := *p
	if p.ActivatedAt != nil {
		at := *p.ActivatedAt
		c.ActivatedAt = &at
	}
	if p.ResolvedDependencies != nil {
		c.ResolvedDependencies = make(map[string]string, len(p.ResolvedDependencies))
		for k, v := range p.ResolvedDependencies {
			c.ResolvedDependencies[k] = v
		}
	}
	c.Manifest = p.Manifest.Clone()
	return &c
}

// Clone returns a deep copy of the manifest.
func (m Manifest) Clone() Manifest {
	c := m
	c.Capabilities = append([]Capability(nil), m.Capabilities...)
	c.Dependencies = append([]Dependency(nil), m.Dependencies...)
	c.Hooks = append([]string(nil), m.Hooks...)
	c.Filters = append([]string(nil), m.Filters...)
	c.Routes = append([]RouteSpec(nil), m.Routes...)
	return c
}

// RegistrationKind identifies the kind of extension point.
type RegistrationKind string

const (
	KindHook   RegistrationKind = "hook"
	KindFilter RegistrationKind = "filter"
	KindRoute  RegistrationKind = "route"
)

// Registration is a live extension point entry owned by an ACTIVE plugin.
type Registration struct {
	Kind               RegistrationKind `json:"kind"`
	Name               string           `json:"name"` // hook/filter name, or route path
	Method             string           `json:"method,omitempty"`
	Handler            string           `json:"handler,omitempty"`
	Owner              string           `json:"owner"`
	RequiredCapability Capability       `json:"requiredCapability,omitempty"`
}

// VersionConflict describes an installed dependency at an unsatisfying version.
type VersionConflict struct {
	Name      string `json:"name"`
	Required  string `json:"required"`
	Installed string `json:"installed"`
}

// Resolution is the outcome of dependency resolution for a target plugin.
type Resolution struct {
	// Order lists the target and any not-yet-active dependencies in
	// activation order (dependencies before dependents).
	Order     []string
	Missing   []string
	Conflicts []VersionConflict
	// OptionalMissing lists declared optional dependencies that are not
	// installed. They produce warnings, never errors.
	OptionalMissing []string
}

// DependencyReport is returned by Engine.GetDependencyGraph.
type DependencyReport struct {
	Dependencies map[string]string `json:"dependencies"` // slug -> resolved version ("" if unresolved)
	Dependents   []string          `json:"dependents"`
	Missing      []string          `json:"missing"`
	Conflicts    []VersionConflict `json:"conflicts"`
}

// ExtensionPoints is returned by Engine.ListExtensionPoints.
type ExtensionPoints struct {
	Hooks   []Registration `json:"hooks"`
	Filters []Registration `json:"filters"`
	Routes  []Registration `json:"routes"`
}

// HealthReport is the result of a single plugin health check.
type HealthReport struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
}

// InstallOptions controls Engine.Install behavior.
type InstallOptions struct {
	Overwrite bool
	Activate  bool
}

// InstallResult is returned by Engine.Install.
type InstallResult struct {
	Plugin   *InstalledPlugin
	Warnings []string
}

// DeactivateOptions controls Engine.Deactivate behavior.
type DeactivateOptions struct {
	// Force deactivates active dependents first, deepest dependent first.
	Force bool
}

// UpdateOptions controls Engine.Update behavior.
type UpdateOptions struct {
	// Backup keeps a copy of the previous archive in the blob store.
	Backup bool
}

// UpdateResult is returned by Engine.Update.
type UpdateResult struct {
	Plugin    *InstalledPlugin
	Changelog []string
}

// UninstallOptions controls Engine.Uninstall behavior.
type UninstallOptions struct {
	// RemoveData signals data removal for the plugin's data namespace.
	RemoveData bool
	// Force deactivates the plugin (and its dependents) before uninstalling.
	Force bool
}
