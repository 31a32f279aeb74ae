// Package staging validates user-supplied input file sets against a job's
// expected set.
//
// The same check applies whether the provided names came from loose uploads
// or from archive member enumeration: the two upload modes are equivalent
// inputs to one validator.
package staging

import (
	"fmt"
	"sort"
	"strings"
)

// InvalidContentError reports an exact-set mismatch between the expected and
// provided filenames. Missing and Extra are sorted so callers can render
// stable, precise diagnostics.
type InvalidContentError struct {
	Missing []string
	Extra   []string
}

func (e *InvalidContentError) Error() string {
	msg := "invalid content"
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(": missing %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		msg += fmt.Sprintf(" (unneeded files: %s)", strings.Join(e.Extra, ", "))
	}
	return msg
}

// IsInvalidContent returns the typed mismatch if err is one.
func IsInvalidContent(err error) (*InvalidContentError, bool) {
	ice, ok := err.(*InvalidContentError)
	return ice, ok
}

// Validate accepts only when provided equals expected as a set.
//
// On mismatch it returns an *InvalidContentError classifying which names were
// absent (missing) and which were not asked for (extra).
func Validate(expected, provided []string) error {
	want := toSet(expected)
	got := toSet(provided)

	var missing, extra []string
	for name := range want {
		if !got[name] {
			missing = append(missing, name)
		}
	}
	for name := range got {
		if !want[name] {
			extra = append(extra, name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(extra)
	return &InvalidContentError{Missing: missing, Extra: extra}
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
