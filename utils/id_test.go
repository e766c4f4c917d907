package utils

import "testing"

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if !IsValidID(id) {
			t.Fatalf("NewID() produced invalid id %q", id)
		}
		if id[14] != '4' {
			t.Errorf("expected version 4 uuid, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"canonical", "3f1c2b44-8d4e-4b7a-9c61-2f0e5d7a9b10", true},
		{"uppercase", "3F1C2B44-8D4E-4B7A-9C61-2F0E5D7A9B10", true},
		{"empty", "", false},
		{"no dashes", "3f1c2b448d4e4b7a9c612f0e5d7a9b10", false},
		{"urn form", "urn:uuid:3f1c2b44-8d4e-4b7a-9c61-2f0e5d7a9b10", false},
		{"bad hex", "zf1c2b44-8d4e-4b7a-9c61-2f0e5d7a9b10", false},
		{"path traversal", "../../etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidID(tt.id); got != tt.want {
				t.Errorf("IsValidID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
