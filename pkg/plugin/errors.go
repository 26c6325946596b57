package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the engine.
var (
	// ErrNotFound indicates no installed plugin exists for the slug.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyInstalled indicates an install collided with an existing slug
	// and overwrite was not requested.
	ErrAlreadyInstalled = errors.New("plugin already installed")

	// ErrPluginActive indicates an operation that requires the plugin to be
	// inactive was called on an ACTIVE plugin without force.
	ErrPluginActive = errors.New("plugin is active")
)

// ValidationError describes a single manifest validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ManifestError reports all manifest validation failures at once.
// It is non-retryable; the caller must fix the archive.
type ManifestError struct {
	Errors []ValidationError
}

func (e *ManifestError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid manifest: %s", strings.Join(msgs, "; "))
}

// CycleError reports a dependency cycle. Resolution fails entirely; no
// partial order is ever returned alongside it.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// DependencyError reports every missing and conflicting dependency found
// during resolution, so the operator can fix all of them at once.
type DependencyError struct {
	Missing   []string
	Conflicts []VersionConflict
}

func (e *DependencyError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing: %s", strings.Join(e.Missing, ", ")))
	}
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("conflict: %s requires %s, installed %s", c.Name, c.Required, c.Installed))
	}
	return "unresolved dependencies: " + strings.Join(parts, "; ")
}

// DependentsError reports ACTIVE plugins that hold a hard dependency on the
// plugin being deactivated or uninstalled.
type DependentsError struct {
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("active plugins depend on this plugin: %s", strings.Join(e.Dependents, ", "))
}

// RouteConflictError reports a route path+method collision with another
// plugin's registration.
type RouteConflictError struct {
	Method string
	Path   string
	Owner  string
}

func (e *RouteConflictError) Error() string {
	return fmt.Sprintf("route %s %s already registered by plugin %q", e.Method, e.Path, e.Owner)
}

// StoreError wraps a blob store or record store failure. Transient: the
// whole operation is safe to retry since rollback leaves no partial state.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// TransitionError reports an operation invoked in a state that does not
// permit it.
type TransitionError struct {
	Slug string
	From Status
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s plugin %q in state %q", e.Op, e.Slug, e.From)
}

// IsRetryable reports whether the error is transient by convention.
// Only store I/O failures qualify; all other kinds require changed inputs.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
