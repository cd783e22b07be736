package ids

import (
	"sort"
	"testing"
)

func TestNewIsSortableAndValid(t *testing.T) {
	const n = 64
	generated := make([]string, 0, n)
	for i := 0; i < n; i++ {
		generated = append(generated, New())
	}
	if !sort.StringsAreSorted(generated) {
		t.Fatalf("expected monotonic identifiers, got %v", generated)
	}
	for _, id := range generated {
		if !Valid(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "user@example.com", "not-a-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if Valid(raw) {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
