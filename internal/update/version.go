package update

import (
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
)

// LatestSentinel is the remote version reported when release metadata could
// not be obtained.
const LatestSentinel = "latest"

// NormalizeVersion trims whitespace and strips any leading non-numeric prefix,
// so "v1.2.0" and "release-1.2.0" both become "1.2.0". Strings without a digit
// are returned trimmed but otherwise unchanged.
func NormalizeVersion(s string) string {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsDigit)
	if i <= 0 {
		return s
	}
	return s[i:]
}

// canonical converts a normalized version into the form x/mod/semver expects.
func canonical(s string) string {
	return "v" + NormalizeVersion(s)
}

// IsSemver reports whether s is a valid semantic version after normalization.
func IsSemver(s string) bool {
	return semver.IsValid(canonical(s))
}

// CompareVersions compares two version strings by semantic version order.
// ok is false when either side is not a valid semantic version.
func CompareVersions(v1, v2 string) (cmp int, ok bool) {
	a, b := canonical(v1), canonical(v2)
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return 0, false
	}
	return semver.Compare(a, b), true
}

// IsNewer reports whether remote is a strictly greater semantic version than
// current. Unparseable versions are never newer.
func IsNewer(remote, current string) bool {
	cmp, ok := CompareVersions(remote, current)
	return ok && cmp > 0
}
