package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContentSelectors are tried in order; the first with non-empty text wins.
var ContentSelectors = []string{
	"article",
	"#content",
	".content",
	"#main-content",
	".main-content",
	".post-content",
	".article-content",
	".entry-content",
	".article-body",
	"#article-body",
	".story-body",
	".post",
}

const noiseSelector = "script, style, noscript, template, svg, iframe"

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "dd": true, "div": true,
	"dl": true, "dt": true, "figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"hr": true, "li": true, "main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "tr": true, "ul": true,
}

// MainText parses html and returns the text of the first matching content container, or "".
func MainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	for _, sel := range ContentSelectors {
		if text := Normalize(blockText(doc.Find(sel).First())); text != "" {
			return text, nil
		}
	}

	var sections []string
	doc.Find("section").Each(func(_ int, s *goquery.Selection) {
		if text := Normalize(blockText(s)); text != "" {
			sections = append(sections, text)
		}
	})
	if len(sections) > 0 {
		return Normalize(strings.Join(sections, "\n\n")), nil
	}

	return Normalize(blockText(doc.Find("main").First())), nil
}

// blockText renders a selection as plain text, breaking lines at block elements.
func blockText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	var b strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		writeNode(&b, s, false)
	})
	return b.String()
}

func writeNode(b *strings.Builder, s *goquery.Selection, pre bool) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			raw := c.Text()
			if pre {
				b.WriteString(raw)
				return
			}
			text := strings.Join(strings.Fields(raw), " ")
			if text == "" {
				if raw != "" {
					space(b)
				}
				return
			}
			if isSpace(raw[0]) {
				space(b)
			}
			b.WriteString(text)
			if isSpace(raw[len(raw)-1]) {
				space(b)
			}
		case name == "br":
			b.WriteString("\n")
		case blockTags[name]:
			b.WriteString("\n\n")
			writeNode(b, c, pre || name == "pre")
			b.WriteString("\n\n")
		default:
			writeNode(b, c, pre)
		}
	})
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

// space writes a single separating space unless the output is at a line start.
func space(b *strings.Builder) {
	if b.Len() == 0 {
		return
	}
	if last := b.String()[b.Len()-1]; last == ' ' || last == '\n' {
		return
	}
	b.WriteString(" ")
}
