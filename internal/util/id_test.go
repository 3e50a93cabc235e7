package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("blk")
	if !strings.HasPrefix(id, "blk_") {
		t.Fatalf("expected blk_ prefix, got %q", id)
	}
	if NewID("") == NewID("") {
		t.Fatal("expected distinct ids")
	}
}

func TestTempID(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Fatalf("expected %q to be a temp id", id)
	}
	if IsTempID(NewID("pg")) {
		t.Fatal("server id reported as temp")
	}
}
