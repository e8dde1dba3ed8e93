package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID(PrefixPerson)
	if !strings.HasPrefix(id, "per_") {
		t.Fatalf("NewID() = %q, want per_ prefix", id)
	}
	if len(id) != len("per_")+32 {
		t.Fatalf("NewID() length = %d", len(id))
	}
	if NewID(PrefixPerson) == id {
		t.Fatal("expected distinct ids")
	}
}

func TestNewIDWithoutPrefix(t *testing.T) {
	if id := NewID(""); len(id) != 32 || strings.Contains(id, "_") {
		t.Fatalf("NewID(\"\") = %q", id)
	}
}
