package textutil

import "testing"

func TestSanitizeTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello world", "Hello world"},
		{"escape sequence", "\x1b[31mred\x1b[0m", "[31mred[0m"},
		{"bell and backspace", "a\x07b\x08c", "abc"},
		{"newlines become spaces", "line1\nline2\r\n", "line1 line2  "},
		{"tab", "a\tb", "a b"},
		{"bidi override", "abc\u202edef", "abcdef"},
		{"unicode kept", "héllo 世界", "héllo 世界"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTerminal(tt.in); got != tt.want {
				t.Errorf("SanitizeTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeBlock(t *testing.T) {
	in := "Hi,\r\n\tsee \x1b]8;;http://x\x07link\x1b]8;;\x07\n"
	want := "Hi,\n\tsee ]8;;http://xlink]8;;\n"
	if got := SanitizeBlock(in); got != want {
		t.Errorf("SanitizeBlock = %q, want %q", got, want)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"a much longer subject line", 10, "a much ..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"single", "single"},
		{"first\nsecond", "first"},
		{"\n\nafter blank\nmore", "after blank"},
		{"crlf\r\nnext", "crlf"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FirstLine(tt.in); got != tt.want {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCell(t *testing.T) {
	if got := Cell("  Re:\tquarterly\n\x1b[2Jreport  ", 20); got != "Re: quarterly [2J..." {
		t.Errorf("Cell = %q", got)
	}
}
