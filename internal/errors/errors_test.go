package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCategoryNotFound, CodeCommitNotFound, "no commit named \"zzz\"")
	expected := `[NOT_FOUND:COMMIT_NOT_FOUND] no commit named "zzz"`
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("open objects/ab/cd: no such file")
	err := Wrap(ErrCategoryStructural, CodeCorruptionDetected, "object unreadable", cause)
	expected := "[STRUCTURAL:CORRUPTION_DETECTED] object unreadable: open objects/ab/cd: no such file"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_WithHint(t *testing.T) {
	err := NewInvalidOperation(CodeWorkingCopyStale, "working copy does not match HEAD").
		WithHint("commit or discard your changes first")
	if !strings.Contains(err.Error(), "(commit or discard your changes first)") {
		t.Errorf("hint missing from %q", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryInternal, CodeUnexpected, "wrapper", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := New(ErrCategoryUsage, CodeBadFilter, "first")
	err2 := New(ErrCategoryUsage, CodeBadFilter, "second")
	err3 := New(ErrCategoryUsage, CodeBadCommitSpec, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestGetCategory(t *testing.T) {
	err := NewNotFound(CodeDatasetNotFound, "no dataset")
	if got := GetCategory(err); got != ErrCategoryNotFound {
		t.Errorf("got %q, want %q", got, ErrCategoryNotFound)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if got := GetCategory(wrapped); got != ErrCategoryNotFound {
		t.Errorf("category should survive wrapping, got %q", got)
	}
	if got := GetCategory(fmt.Errorf("plain")); got != "" {
		t.Errorf("plain errors have no category, got %q", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"usage", NewUsageError(CodeBadCommitSpec, "bad spec"), 2},
		{"not found", NewNotFound(CodeCommitNotFound, "gone"), 3},
		{"invalid operation", NewInvalidOperation(CodeNoCommonAncestor, "disjoint"), 4},
		{"patch conflicts", &PatchDoesNotApplyError{}, 5},
		{"structural", NewStructuralError(CodeInvalidSchema, "bad schema"), 1},
		{"crs", NewCrsError("cannot transform", nil), 1},
		{"plain", fmt.Errorf("boom"), 1},
		{"wrapped usage", fmt.Errorf("outer: %w", NewUsageError(CodeBadFilter, "bad")), 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestPatchDoesNotApplyError_ListsEveryConflictSorted(t *testing.T) {
	err := &PatchDoesNotApplyError{Conflicts: []PatchConflict{
		{Dataset: "roads", Key: "9", Reason: ConflictAlreadyUpdated},
		{Dataset: "points", Key: "2", Reason: ConflictAlreadyDeleted},
		{Dataset: "points", Key: "1", Reason: ConflictWrongOldValue},
	}}
	msg := err.Error()

	for _, want := range []string{
		"points:1: does not match the stored value",
		"points:2: already deleted",
		"roads:9: already updated",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Index(msg, "points:1") > strings.Index(msg, "points:2") {
		t.Error("conflicts should be sorted by dataset then key")
	}
}

func TestPatchDoesNotApplyError_MatchesCategorySentinel(t *testing.T) {
	err := &PatchDoesNotApplyError{}
	sentinel := New(ErrCategoryPatch, CodePatchDoesNotApply, "")
	if !errors.Is(err, sentinel) {
		t.Error("PatchDoesNotApplyError should match the patch sentinel")
	}
}

func TestIsThreadTerminated(t *testing.T) {
	if !IsThreadTerminated(fmt.Errorf("wrapped: %w", ErrThreadTerminated)) {
		t.Error("wrapped cancellation signal should still be recognised")
	}
	if IsThreadTerminated(fmt.Errorf("other")) {
		t.Error("unrelated errors are not the cancellation signal")
	}
}

func TestAsPromisedValueNotReady(t *testing.T) {
	inner := &PromisedValueNotReady{}
	wrapped := fmt.Errorf("loading value: %w", inner)
	if got := AsPromisedValueNotReady(wrapped); got != inner {
		t.Error("signal should be extractable from a wrapped chain")
	}
	if AsPromisedValueNotReady(fmt.Errorf("other")) != nil {
		t.Error("unrelated errors must not extract")
	}
}
