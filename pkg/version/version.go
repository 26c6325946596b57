// Package version provides semantic version comparison and range matching
// for the plugin engine. Every other component trusts this ordering, so it
// stays a thin, well-tested wrapper around Masterminds/semver.
package version

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion indicates a version string that does not parse as semver.
var ErrInvalidVersion = errors.New("invalid semver version")

// ErrInvalidRange indicates a range string that does not parse as a semver constraint.
var ErrInvalidRange = errors.New("invalid semver range")

// BumpKind classifies the difference between two versions.
type BumpKind string

const (
	BumpMajor     BumpKind = "major"
	BumpMinor     BumpKind = "minor"
	BumpPatch     BumpKind = "patch"
	BumpNone      BumpKind = "none"
	BumpDowngrade BumpKind = "downgrade"
)

// Parse parses a semver version string.
func Parse(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return v, nil
}

// IsValid reports whether s is a well-formed semver version.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// IsValidRange reports whether s is a well-formed semver range.
// Caret (^), tilde (~), exact, and compound constraints are supported.
func IsValidRange(s string) bool {
	_, err := semver.NewConstraint(s)
	return err == nil
}

// Compare returns -1, 0, or 1 if a is less than, equal to, or greater than b.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Satisfies reports whether version v matches the range rng.
func Satisfies(v, rng string) (bool, error) {
	ver, err := Parse(v)
	if err != nil {
		return false, err
	}
	c, err := semver.NewConstraint(rng)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidRange, rng)
	}
	return c.Check(ver), nil
}

// Bump classifies the change from old to new. Used to build update changelogs.
func Bump(oldV, newV string) (BumpKind, error) {
	a, err := Parse(oldV)
	if err != nil {
		return "", err
	}
	b, err := Parse(newV)
	if err != nil {
		return "", err
	}
	switch {
	case b.LessThan(a):
		return BumpDowngrade, nil
	case b.Major() != a.Major():
		return BumpMajor, nil
	case b.Minor() != a.Minor():
		return BumpMinor, nil
	case b.Patch() != a.Patch():
		return BumpPatch, nil
	default:
		return BumpNone, nil
	}
}
