package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Big Buck Bunny", "Big Buck Bunny"},
		{`AC/DC: "Live" <2024>?`, `AC_DC_ _Live_ _2024__`},
		{"tab\tand\nnewline", "tabandnewline"},
		{"  padded  ", "padded"},
		{"...", "media"},
		{"", "media"},
		{"a|b*c\\d", "a_b_c_d"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileName_TruncatesOnRuneBoundary(t *testing.T) {
	in := strings.Repeat("é", 150) // 300 bytes
	got := SanitizeFileName(in)
	if len(got) > MaxFileNameBytes {
		t.Errorf("expected at most %d bytes, got %d", MaxFileNameBytes, len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
}

func TestAttachmentName(t *testing.T) {
	if got := AttachmentName("My: Song", "mp3"); got != "My_ Song.mp3" {
		t.Errorf("unexpected name %q", got)
	}
	if got := AttachmentName("", ".mp4"); got != "media.mp4" {
		t.Errorf("unexpected name %q", got)
	}
}
