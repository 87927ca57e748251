package errors

import (
	goerrors "errors"
	"fmt"
	"sort"
	"strings"
)

// PatchConflictReason says why one key in a patch could not be applied.
type PatchConflictReason string

const (
	ConflictWrongOldValue  PatchConflictReason = "does not match the stored value"
	ConflictAlreadyDeleted PatchConflictReason = "already deleted"
	ConflictAlreadyExists  PatchConflictReason = "already exists"
	ConflictAlreadyUpdated PatchConflictReason = "already updated"
)

// PatchConflict identifies one key that stopped a patch from applying.
type PatchConflict struct {
	Dataset string
	Key     string
	Reason  PatchConflictReason
}

func (c PatchConflict) String() string {
	return fmt.Sprintf("%s:%s: %s", c.Dataset, c.Key, c.Reason)
}

// PatchDoesNotApplyError reports every conflicting key in one pass, so the
// user sees the full list rather than the first mismatch.
type PatchDoesNotApplyError struct {
	Conflicts []PatchConflict
}

func (e *PatchDoesNotApplyError) Error() string {
	sorted := make([]PatchConflict, len(e.Conflicts))
	copy(sorted, e.Conflicts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Dataset != sorted[j].Dataset {
			return sorted[i].Dataset < sorted[j].Dataset
		}
		return sorted[i].Key < sorted[j].Key
	})
	lines := make([]string, len(sorted))
	for i, c := range sorted {
		lines[i] = "  " + c.String()
	}
	return fmt.Sprintf("[%s:%s] patch does not apply:\n%s",
		ErrCategoryPatch, CodePatchDoesNotApply, strings.Join(lines, "\n"))
}

// Is lets errors.Is match any PatchDoesNotApplyError against the category
// sentinel.
func (e *PatchDoesNotApplyError) Is(target error) bool {
	var t *Error
	if goerrors.As(target, &t) {
		return t.Category == ErrCategoryPatch && t.Code == CodePatchDoesNotApply
	}
	return false
}
