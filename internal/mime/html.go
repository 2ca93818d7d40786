package mime

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText renders an HTML body as plain text. Block elements become line
// breaks; script, style and head content is dropped.
func HTMLToText(rawHTML string) string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	var sb strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return normalizeText(sb.String())
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if droppedContent(a) {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockElement(a) {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if droppedContent(a) {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockElement(a) {
				sb.WriteByte('\n')
			}
		}
	}
}

func droppedContent(a atom.Atom) bool {
	return a == atom.Script || a == atom.Style || a == atom.Head
}

func blockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Hr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Tr, atom.Td, atom.Th, atom.Blockquote, atom.Pre, atom.Table,
		atom.Ul, atom.Ol, atom.Dl, atom.Dt, atom.Dd:
		return true
	}
	return false
}

// normalizeText collapses runs of spaces within lines and limits blank
// lines to one.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
