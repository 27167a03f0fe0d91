package extract

import (
	"strings"
)

var invisibleReplacer = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\r\n", "\n",
	"\r", "\n",
)

// Normalize strips zero-width characters, turns NBSP into a space, trims trailing spaces on
// every line and collapses runs of blank lines into one.
func Normalize(text string) string {
	text = invisibleReplacer.Replace(text)
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
