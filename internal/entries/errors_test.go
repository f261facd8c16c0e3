package entries

import (
	"errors"
	"fmt"
	"testing"
)

func TestBagAddError(t *testing.T) {
	bag := Bag{}
	if !bag.OK() {
		t.Fatal("empty bag must be OK")
	}

	// A keyed operation error lands under its own source.
	bag.AddError("fallback", opError(SourceEntryArchive, errors.New("entry missing")))
	if got := bag[SourceEntryArchive]; len(got) != 1 || got[0] != "entry missing" {
		t.Errorf("bag[%s] = %v", SourceEntryArchive, got)
	}

	// A plain error falls back to the caller's source.
	bag.AddError("fallback", errors.New("boom"))
	if got := bag["fallback"]; len(got) != 1 || got[0] != "boom" {
		t.Errorf("bag[fallback] = %v", got)
	}

	if bag.OK() {
		t.Error("bag with entries must not be OK")
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	wrapped := fmt.Errorf("outer: %w", opError(SourceEntryLock, inner))

	var op *OpError
	if !errors.As(wrapped, &op) {
		t.Fatal("errors.As failed to find OpError")
	}
	if op.Source != SourceEntryLock {
		t.Errorf("Source = %q", op.Source)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("errors.Is failed to reach the inner error")
	}
}
