package pipeline

import (
	"strings"
	"unicode/utf8"
)

// SplitScript cuts a podcast script into synthesis chunks: paragraphs when
// there are at least two, otherwise lines, otherwise the whole script.
// An empty script yields no chunks.
func SplitScript(script string) []string {
	if chunks := splitNonEmpty(script, "\n\n"); len(chunks) >= 2 {
		return chunks
	}
	if chunks := splitNonEmpty(script, "\n"); len(chunks) > 0 {
		return chunks
	}
	if s := strings.TrimSpace(script); s != "" {
		return []string{s}
	}
	return nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// preview returns the first n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// synthProgress is the progress after chunk i of total is synthesized:
// script generation owns 0-30, synthesis 30-90, storing 90-100.
func synthProgress(i, total int) int {
	p := 30 + (i+1)*60/total
	if p > 90 {
		p = 90
	}
	return p
}
