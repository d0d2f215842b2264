package dictionary

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

// NormalizeHeader folds case and width, and collapses every run of
// punctuation or whitespace into one space: "Container  No." and
// "CONTAINER_NO" both become "container no".
func NormalizeHeader(header string) string {
	folded := cases.Fold().String(norm.NFKC.String(header))
	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Version is a parsed major.minor.patch version.
type Version struct {
	Major, Minor, Patch int
}

// String renders the version without the leading "v".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// BumpPatch returns the next patch version.
func (v Version) BumpPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// ParseVersion accepts "1.2.3" or "v1.2.3". Pre-release and build suffixes are
// rejected because bumps only move the patch number.
func ParseVersion(raw string) (Version, error) {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "v") {
		text = "v" + text
	}
	if !semver.IsValid(text) || semver.Prerelease(text) != "" || semver.Build(text) != "" {
		return Version{}, apperrors.NewValidationError("version", raw, "must be a semantic version like 1.0.0")
	}
	parts := strings.SplitN(strings.TrimPrefix(semver.Canonical(text), "v"), ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, apperrors.NewValidationError("version", raw, "non-numeric component")
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// CompareVersions returns -1, 0 or +1 like semver.Compare. Invalid versions
// sort before valid ones.
func CompareVersions(a, b string) int {
	return semver.Compare(withV(a), withV(b))
}

func withV(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
