// Package textutil prepares remote-supplied text for terminal display.
package textutil

import (
	"strings"
	"unicode"
)

// SanitizeTerminal removes control characters, including ESC, so a
// subject or sender cannot move the cursor or recolor the terminal.
// Newlines and tabs become spaces.
func SanitizeTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r), r == '\u2028', r == '\u2029':
			return -1
		case unicode.Is(unicode.Bidi_Control, r):
			return -1
		}
		return r
	}, s)
}

// SanitizeBlock is SanitizeTerminal for multi-line text: newlines and tabs
// are kept, carriage returns dropped.
func SanitizeBlock(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(unicode.Bidi_Control, r):
			return -1
		}
		return r
	}, s)
}

// CollapseSpace replaces runs of whitespace with a single space and trims
// the ends.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes truncates a string to maxRunes runes (not bytes), adding "..." if truncated.
// This is UTF-8 safe and won't split multi-byte characters.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// FirstLine returns the first line of a string.
// Leading newlines are trimmed before extracting the first line.
func FirstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return strings.TrimRight(s[:idx], "\r")
	}
	return s
}

// Cell prepares a value for one table cell: sanitized, collapsed and cut
// to width runes.
func Cell(s string, width int) string {
	return TruncateRunes(CollapseSpace(SanitizeTerminal(s)), width)
}
