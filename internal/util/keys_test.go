package util

import (
	"strings"
	"testing"
)

func TestHashKeyStableAndBounded(t *testing.T) {
	a := HashKey("q:admin", `getStation:"A"`)
	b := HashKey("q:admin", `getStation:"A"`)
	if a != b {
		t.Fatalf("HashKey not deterministic: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "q:admin:") || len(a) != len("q:admin:")+32 {
		t.Fatalf("unexpected shape %q", a)
	}
	if HashKey("q:admin", `getStation:"B"`) == a {
		t.Fatalf("different keys must hash differently")
	}
}
