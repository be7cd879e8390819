package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxFileNameBytes bounds the length of a sanitized filename stem.
	MaxFileNameBytes = 200
	fallbackName     = "media"
)

// fileNameReplacer replaces filesystem-unsafe characters with underscores.
var fileNameReplacer = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	"\"", "_",
	"/", "_",
	"\\", "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// SanitizeFileName turns a media title into a safe filename stem. Unsafe
// characters become underscores, control characters are dropped, and the
// result is trimmed and cut to MaxFileNameBytes on a rune boundary. Empty
// results fall back to "media".
func SanitizeFileName(name string) string {
	name = fileNameReplacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	name = truncateBytes(name, MaxFileNameBytes)
	name = strings.TrimSpace(name)
	if name == "" {
		return fallbackName
	}
	return name
}

// AttachmentName builds "<sanitized title>.<ext>".
func AttachmentName(title, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	stem := SanitizeFileName(title)
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
