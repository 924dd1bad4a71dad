package core

import (
	"testing"
	"unicode/utf8"
)

func TestTruncateToBytes(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		budget int
		want   string
	}{
		{"fits", "ABC", 5, "ABC"},
		{"exact", "ABC", 3, "ABC"},
		{"ascii cut", "ABCDEF", 4, "ABCD"},
		{"zero budget", "ABC", 0, ""},
		{"negative budget", "ABC", -1, ""},
		{"does not split Ç", "AÇÃO", 2, "A"},
		{"keeps whole Ç", "AÇÃO", 3, "AÇ"},
		{"does not split Ã", "AÇÃO", 4, "AÇ"},
		{"empty", "", 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateToBytes(tt.input, tt.budget); got != tt.want {
				t.Errorf("TruncateToBytes(%q, %d) = %q, want %q", tt.input, tt.budget, got, tt.want)
			}
		})
	}
}

func TestTruncateToBytes_Properties(t *testing.T) {
	inputs := []string{
		"",
		"COMBATE A DESNUTRICAO",
		"AÇÃO",
		"PROCEDIMENTOS CLÍNICOS E CIRÚRGICOS",
		"€€€",
		"日本語テキスト",
		"a\U0001F600b",
	}

	for _, s := range inputs {
		for budget := 0; budget <= len(s)+2; budget++ {
			got := TruncateToBytes(s, budget)
			if len(got) > budget {
				t.Errorf("TruncateToBytes(%q, %d) = %d bytes", s, budget, len(got))
			}
			if !utf8.ValidString(got) {
				t.Errorf("TruncateToBytes(%q, %d) = %q, split a character", s, budget, got)
			}
			if again := TruncateToBytes(got, budget); again != got {
				t.Errorf("TruncateToBytes not idempotent for %q at %d: %q then %q", s, budget, got, again)
			}
		}
	}
}

func TestTruncateToRunes(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		n             int
		want          string
		wantTruncated bool
	}{
		{"unbounded", "AÇÃO", 0, "AÇÃO", false},
		{"short ascii", "ABC", 5, "ABC", false},
		{"exact characters, more bytes", "AÇÃO", 4, "AÇÃO", false},
		{"cut on a character", "AÇÃO AÇÃO", 3, "AÇÃ", true},
		{"ascii", "ABCDEF", 4, "ABCD", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := TruncateToRunes(tt.input, tt.n)
			if got != tt.want || truncated != tt.wantTruncated {
				t.Errorf("TruncateToRunes(%q, %d) = %q, %v; want %q, %v", tt.input, tt.n, got, truncated, tt.want, tt.wantTruncated)
			}
		})
	}
}

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		capacity      int
		want          string
		wantTruncated bool
	}{
		{"unbounded", "ANYTHING", 0, "ANYTHING", false},
		{"under capacity", "AÇÃO", 8, "AÇÃO", false},
		{"ascii at capacity kept", "ABCDEFGH", 8, "ABCDEFGH", false},
		{"ascii over capacity", "ABCDEFGHIJ", 8, "ABCDEFGH", true},
		{"accented over capacity keeps margin", "AÇÃO AÇÃO", 8, "AÇÃO", true},
		{"accented at capacity", "AÇÃOXY", 8, "AÇÃO", true},
		{"tiny capacity", "AÇÃO", 4, "A", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := SafeTruncate(tt.input, tt.capacity)
			if got != tt.want || truncated != tt.wantTruncated {
				t.Errorf("SafeTruncate(%q, %d) = %q, %v, want %q, %v",
					tt.input, tt.capacity, got, truncated, tt.want, tt.wantTruncated)
			}
			if tt.capacity > 0 && len(got) > tt.capacity {
				t.Errorf("SafeTruncate(%q, %d) = %d bytes, over capacity", tt.input, tt.capacity, len(got))
			}
			if !utf8.ValidString(got) {
				t.Errorf("SafeTruncate(%q, %d) = %q, split a character", tt.input, tt.capacity, got)
			}
		})
	}
}
