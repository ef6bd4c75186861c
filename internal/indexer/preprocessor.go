package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: line endings become
// LF, control characters other than tab and newline are dropped, trailing
// spaces are trimmed per line and runs of blank lines collapse to one.
// Chunk offsets refer to the returned text.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	blank := 0
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRightFunc(strings.Map(dropControl, line), unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return strings.TrimSpace(b.String())
}

func dropControl(r rune) rune {
	if r == '\t' || !unicode.IsControl(r) {
		return r
	}
	return -1
}
