package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose entire subtree is dropped.
var skipSubtree = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

// Elements that separate words when their tags are removed.
var blockBreak = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Div: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Blockquote: true, atom.Section: true,
	atom.Article: true, atom.Figcaption: true,
}

const maxSanitizePasses = 3

// Sanitize turns untrusted HTML into plain text. It drops every tag and
// attribute, removes script-like subtrees with their content, decodes entities
// and collapses whitespace. It repeats until the output stops changing, so
// markup smuggled in as escaped entities is stripped too.
func Sanitize(s string) string {
	out := strings.TrimSpace(s)
	for i := 0; i < maxSanitizePasses; i++ {
		next := sanitizeOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func sanitizeOnce(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return CollapseSpace(s)
	}

	var buf bytes.Buffer
	z := html.NewTokenizer(strings.NewReader(s))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; either way keep what was read
			return CollapseSpace(buf.String())

		case html.TextToken:
			if skipDepth == 0 {
				buf.Write(z.Text())
			}

		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipSubtree[a] {
				skipDepth++
			} else if blockBreak[a] {
				buf.WriteByte(' ')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipSubtree[a] && skipDepth > 0 {
				skipDepth--
			} else if blockBreak[a] {
				buf.WriteByte(' ')
			}

		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockBreak[atom.Lookup(name)] {
				buf.WriteByte(' ')
			}
		}
	}
}

// CollapseSpace trims s and folds every whitespace run into one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes without splitting a character.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
