package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/quillcms/plugin-engine/pkg/version"
)

// slugRegex validates plugin slug format (lowercase alphanumeric, hyphen, underscore).
var slugRegex = regexp.MustCompile(`^[a-z0-9-_]+$`)

// ManifestValidator parses and validates plugin manifests.
type ManifestValidator struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewManifestValidator creates a new manifest validator.
func NewManifestValidator(logger zerolog.Logger) *ManifestValidator {
	return &ManifestValidator{
		logger:       logger.With().Str("component", "manifest-validator").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(ManifestSchema),
	}
}

// Validate parses raw manifest bytes and validates them. On failure it
// returns a *ManifestError carrying every violation found, so the caller
// sees all problems at once.
func (v *ManifestValidator) Validate(raw []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, &ManifestError{Errors: []ValidationError{
			{Message: fmt.Sprintf("manifest is not valid JSON: %v", err)},
		}}
	}

	var errs []ValidationError
	errs = append(errs, v.schemaErrors(raw)...)
	errs = append(errs, v.semanticErrors(&manifest)...)
	if len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}

	v.logger.Debug().
		Str("slug", manifest.Name).
		Str("version", manifest.Version).
		Msg("Validated manifest")

	return &manifest, nil
}

// schemaErrors validates the raw document against the JSON schema.
func (v *ManifestValidator) schemaErrors(raw []byte) []ValidationError {
	result, err := gojsonschema.Validate(v.schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return []ValidationError{{Message: fmt.Sprintf("schema validation error: %v", err)}}
	}

	var errs []ValidationError
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{Field: re.Field(), Message: re.Description()})
	}
	return errs
}

// semanticErrors performs validation beyond what JSON schema expresses:
// semver grammar, capability enum membership, dependency ranges.
func (v *ManifestValidator) semanticErrors(m *Manifest) []ValidationError {
	var errs []ValidationError

	if m.Name != "" && !slugRegex.MatchString(m.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid slug %q (must match %s)", m.Name, slugRegex.String()),
		})
	}
	if m.Version != "" && !version.IsValid(m.Version) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("invalid semver version %q", m.Version),
		})
	}

	for i, cap := range m.Capabilities {
		if !ValidCapabilities[cap] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capabilities.%d", i),
				Message: fmt.Sprintf("unrecognized capability %q", cap),
			})
		}
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for i, dep := range m.Dependencies {
		if dep.Name == m.Name {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dependencies.%d", i),
				Message: "plugin cannot depend on itself",
			})
		}
		if seen[dep.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dependencies.%d", i),
				Message: fmt.Sprintf("duplicate dependency %q", dep.Name),
			})
		}
		seen[dep.Name] = true
		if dep.Range != "" && !version.IsValidRange(dep.Range) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dependencies.%d.range", i),
				Message: fmt.Sprintf("invalid semver range %q", dep.Range),
			})
		}
	}

	for i, route := range m.Routes {
		if route.RequiredCapability != "" && !ValidCapabilities[route.RequiredCapability] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("routes.%d.requiredCapability", i),
				Message: fmt.Sprintf("unrecognized capability %q", route.RequiredCapability),
			})
		}
	}

	if m.Requirements.Host != "" && !version.IsValidRange(m.Requirements.Host) {
		errs = append(errs, ValidationError{
			Field:   "requirements.host",
			Message: fmt.Sprintf("invalid semver range %q", m.Requirements.Host),
		})
	}

	return errs
}

// Warnings returns non-fatal observations about a valid manifest, surfaced
// to the caller on install.
func (v *ManifestValidator) Warnings(m *Manifest) []string {
	var warnings []string

	declared := make(map[Capability]bool, len(m.Capabilities))
	for _, cap := range m.Capabilities {
		declared[cap] = true
	}
	if len(m.Routes) > 0 && !declared[CapabilityRoutesRegister] {
		warnings = append(warnings, fmt.Sprintf("plugin %q declares routes without the %s capability", m.Name, CapabilityRoutesRegister))
	}
	for _, route := range m.Routes {
		if route.RequiredCapability != "" && !declared[route.RequiredCapability] {
			warnings = append(warnings, fmt.Sprintf("route %s %s requires capability %q the plugin does not declare", route.Method, route.Path, route.RequiredCapability))
		}
	}
	if m.Description == "" {
		warnings = append(warnings, fmt.Sprintf("plugin %q has no description", m.Name))
	}

	return warnings
}
