// Package version wraps semantic version ordering for the scheduler. Version
// strings flow in from the cluster-management service and from fleet
// configuration; anything unparsable sorts lowest rather than aborting a
// cycle.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

var zero = semver.MustParse("0.0.0")

func parse(s string) *semver.Version {
	v, err := semver.NewVersion(s)
	if err != nil {
		return zero
	}
	return v
}

// Compare returns -1, 0 or 1 if a is lower than, equal to or higher than b.
func Compare(a, b string) int {
	return parse(a).Compare(parse(b))
}

// Less reports whether a is strictly lower than b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Min returns the lower of a and b. An empty string means "no version" and
// loses to any non-empty version.
func Min(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// MinorPrefix truncates a version to its minor prefix, e.g. "4.13.1" to
// "4.13".
func MinorPrefix(v string) string {
	p := parse(v)
	return fmt.Sprintf("%d.%d", p.Major(), p.Minor())
}

// CompareMinor compares only the major.minor portions of a and b. b may be a
// bare minor prefix such as "4.13".
func CompareMinor(a, b string) int {
	av, bv := parse(a), parse(b)
	if av.Major() != bv.Major() {
		if av.Major() < bv.Major() {
			return -1
		}
		return 1
	}
	if av.Minor() != bv.Minor() {
		if av.Minor() < bv.Minor() {
			return -1
		}
		return 1
	}
	return 0
}
