// Package provenance merges verbatim and AI-inferred text segments while
// recording which parts of the result were inferred.
package provenance

import (
	"strings"
	"unicode/utf8"
)

// Segment is one piece of text tagged with its origin.
type Segment struct {
	Text     string `json:"text"`
	Inferred bool   `json:"inferred"`
}

// Range is a half-open [Start, End) interval in runes over the merged text.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int { return r.End - r.Start }

// Result is the merged text plus the ranges that came from inferred segments.
type Result struct {
	Text     string  `json:"text"`
	Inferred []Range `json:"inferred"`
	length   int
}

// Merge concatenates segments in order. Empty segments are dropped. The
// returned inferred ranges are sorted, non-empty and pairwise disjoint.
func Merge(segments []Segment) Result {
	var b strings.Builder
	res := Result{Inferred: []Range{}}
	offset := 0
	for _, s := range segments {
		if s.Text == "" {
			continue
		}
		n := utf8.RuneCountInString(s.Text)
		if s.Inferred {
			res.Inferred = append(res.Inferred, Range{Start: offset, End: offset + n})
		}
		b.WriteString(s.Text)
		offset += n
	}
	res.Text = b.String()
	res.length = offset
	return res
}

// Len returns the merged text length in runes.
func (r Result) Len() int {
	if r.length == 0 && r.Text != "" {
		return utf8.RuneCountInString(r.Text)
	}
	return r.length
}

// Verbatim returns the complement of the inferred ranges over [0, Len()).
func (r Result) Verbatim() []Range {
	out := []Range{}
	pos := 0
	for _, in := range r.Inferred {
		if in.Start > pos {
			out = append(out, Range{Start: pos, End: in.Start})
		}
		pos = in.End
	}
	if n := r.Len(); pos < n {
		out = append(out, Range{Start: pos, End: n})
	}
	return out
}

// Slice returns the text covered by rg.
func (r Result) Slice(rg Range) string {
	runes := []rune(r.Text)
	if rg.Start < 0 || rg.End > len(runes) || rg.Start > rg.End {
		return ""
	}
	return string(runes[rg.Start:rg.End])
}

// InferredText concatenates the text of every inferred range in order.
func (r Result) InferredText() string {
	runes := []rune(r.Text)
	var b strings.Builder
	for _, rg := range r.Inferred {
		b.WriteString(string(runes[rg.Start:rg.End]))
	}
	return b.String()
}
