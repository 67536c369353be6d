package main

import (
	"strings"
	"testing"
)

func TestRenderTableTruncatesLimitedColumns(t *testing.T) {
	endpoint := "https://fcm.googleapis.com/fcm/send/" + strings.Repeat("x", 80) + "TAIL"
	out := renderTable([]column{{title: "ID"}, {title: "Endpoint", maxRunes: 24}}, [][]string{
		{"sub-1", endpoint},
		{"sub-2"},
	})

	if strings.Contains(out, endpoint) {
		t.Fatalf("endpoint not truncated:\n%s", out)
	}
	if !strings.Contains(out, "https://fc") || !strings.Contains(out, "...") || !strings.Contains(out, "TAIL") {
		t.Fatalf("truncated endpoint should keep both ends:\n%s", out)
	}
	if !strings.Contains(out, "sub-2") {
		t.Fatalf("short row dropped:\n%s", out)
	}
}

func TestRenderTableWithoutColumns(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}); out != "" {
		t.Fatalf("out=%q; want empty", out)
	}
}

func TestTruncateMiddle(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "short", max: 10, want: "short"},
		{in: "abcdefghij", max: 7, want: "ab...ij"},
		{in: "äöüäöüäöü", max: 5, want: "ä...ü"},
		{in: "abcdef", max: 3, want: "abcdef"},
	}
	for _, tt := range tests {
		if got := truncateMiddle(tt.in, tt.max); got != tt.want {
			t.Fatalf("truncateMiddle(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
