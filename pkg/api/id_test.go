package api

import (
	"testing"
)

func TestNewGenerationID(t *testing.T) {
	id := NewGenerationID()
	if !ValidateGenerationID(id) {
		t.Errorf("NewGenerationID() = %q, want valid generation ID", id)
	}
}

func TestNewRecordID(t *testing.T) {
	id := NewRecordID()
	if !ValidateRecordID(id) {
		t.Errorf("NewRecordID() = %q, want valid record ID", id)
	}
}

func TestValidateGenerationID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "gen_abcdefghijklmnopqrstuvwx", true},
		{"valid mixed case", "gen_AbCdEfGhIjKlMnOpQrStUvWx", true},
		{"valid digits", "gen_123456789012345678901234", true},
		{"wrong prefix", "rec_abcdefghijklmnopqrstuvwx", false},
		{"no prefix", "abcdefghijklmnopqrstuvwxyz1234", false},
		{"too short", "gen_abc", false},
		{"too long", "gen_abcdefghijklmnopqrstuvwxy", false},
		{"special chars", "gen_abcdefghijklmnopqrstuv!@", false},
		{"empty", "", false},
		{"prefix only", "gen_", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateGenerationID(tt.id); got != tt.want {
				t.Errorf("ValidateGenerationID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestValidateRecordID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "rec_abcdefghijklmnopqrstuvwx", true},
		{"wrong prefix", "gen_abcdefghijklmnopqrstuvwx", false},
		{"too short", "rec_abc", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateRecordID(tt.id); got != tt.want {
				t.Errorf("ValidateRecordID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestIDUniqueness(t *testing.T) {
	const count = 1000
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		id := NewGenerationID()
		if seen[id] {
			t.Fatalf("duplicate generation ID after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}
