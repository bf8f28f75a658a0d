package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

var errMissing = errors.New("missing thing")

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(NotFound, errMissing, "clone %q", "dev")
	err = fmt.Errorf("resolving: %w", err)

	if !errors.Is(err, errMissing) {
		t.Error("errors.Is lost the sentinel")
	}
	if KindOf(err) != NotFound {
		t.Errorf("KindOf = %q, want %q", KindOf(err), NotFound)
	}
	if got := err.Error(); got != `resolving: clone "dev": missing thing` {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsWalksNestedKinds(t *testing.T) {
	inner := Wrap(Collaborator, errors.New("exit status 128"), "git pull")
	outer := Wrap(Validation, inner, "update")

	if !Is(outer, Validation) || !Is(outer, Collaborator) {
		t.Error("Is should find both kinds")
	}
	if Is(outer, NotFound) {
		t.Error("Is(NotFound) = true, want false")
	}
	if KindOf(outer) != Validation {
		t.Errorf("KindOf = %q, want outermost %q", KindOf(outer), Validation)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(NotFound, nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestPartial(t *testing.T) {
	if Partial("scan", nil) != nil {
		t.Fatal("Partial with no items should be nil")
	}
	err := Partial("scan", []ItemError{
		{Item: "a.rvt", Err: errors.New("bad header")},
		{Item: "b.rvt", Err: errors.New("truncated")},
	})
	if KindOf(err) != PartialFailure {
		t.Errorf("KindOf = %q, want %q", KindOf(err), PartialFailure)
	}
	if !strings.Contains(err.Error(), "2 item(s) failed") || !strings.Contains(err.Error(), "b.rvt: truncated") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("plain"), 1},
		{New(NotFound, "x"), 2},
		{New(Validation, "x"), 3},
		{New(PermissionDenied, "x"), 6},
		{fmt.Errorf("wrapped: %w", New(Collaborator, "x")), 8},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
