package bounce

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// lineBreaks are the elements rendered on a line of their own.
var lineBreaks = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Tr: true, atom.Li: true,
	atom.Table: true, atom.Blockquote: true, atom.Pre: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// htmlText renders an HTML body as plain text, one non-empty line per
// block, with entities decoded and script, style and title dropped.
func htmlText(body []byte) string {
	var b strings.Builder
	z := html.NewTokenizer(bytes.NewReader(body))
	hidden := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return compactLines(b.String())

		case html.TextToken:
			if hidden == 0 {
				b.WriteString(strings.Map(collapseSpace, string(z.Text())))
			}

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch a {
			case atom.Script, atom.Style, atom.Title:
				if tt == html.StartTagToken {
					hidden++
				} else if tt == html.EndTagToken && hidden > 0 {
					hidden--
				}
				continue
			}
			if lineBreaks[a] {
				b.WriteByte('\n')
			}
		}
	}
}

// collapseSpace folds source line breaks into spaces; only block
// elements start new lines.
func collapseSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return r
}

func compactLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
