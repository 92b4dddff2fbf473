package pipeline

import "strings"

// Section is one of the six parts of a text insight response.
type Section string

const (
	SectionOriginal    Section = "original"
	SectionWordByWord  Section = "word_by_word"
	SectionStructure   Section = "structure"
	SectionTranslation Section = "translation"
	SectionColloquial  Section = "colloquial"
	SectionSimplified  Section = "simplified"
)

// Sections lists the text insight sections in response order.
func Sections() []Section {
	return []Section{
		SectionOriginal, SectionWordByWord, SectionStructure,
		SectionTranslation, SectionColloquial, SectionSimplified,
	}
}

var sectionMarkers = map[string]Section{
	"[ORIGINAL]":     SectionOriginal,
	"[WORD_BY_WORD]": SectionWordByWord,
	"[STRUCTURE]":    SectionStructure,
	"[TRANSLATION]":  SectionTranslation,
	"[COLLOQUIAL]":   SectionColloquial,
	"[SIMPLIFIED]":   SectionSimplified,
}

// sectionChunk is text routed to one section.
type sectionChunk struct {
	Section Section
	Text    string
}

// sectionDemux splits a fragment stream into sections by their markers.
// Markers may be split across fragments. Text before the first marker is
// discarded.
type sectionDemux struct {
	buf         string
	current     Section
	trimLeading bool
}

// Feed consumes one fragment and returns the text that can be routed so far.
func (d *sectionDemux) Feed(frag string) []sectionChunk {
	d.buf += frag
	var out []sectionChunk
	for {
		i, marker := findMarker(d.buf)
		if i < 0 {
			break
		}
		out = d.appendText(out, d.buf[:i])
		d.current = sectionMarkers[marker]
		d.trimLeading = true
		d.buf = d.buf[i+len(marker):]
	}

	// Hold back a suffix that could still grow into a marker.
	keep := partialMarkerStart(d.buf)
	out = d.appendText(out, d.buf[:keep])
	d.buf = d.buf[keep:]
	return out
}

// Flush returns whatever is buffered at end of stream.
func (d *sectionDemux) Flush() []sectionChunk {
	out := d.appendText(nil, d.buf)
	d.buf = ""
	return out
}

func (d *sectionDemux) appendText(out []sectionChunk, text string) []sectionChunk {
	if d.current == "" {
		return out
	}
	if d.trimLeading {
		text = strings.TrimLeft(text, " \t")
		if text == "" {
			return out
		}
		d.trimLeading = false
	}
	if text == "" {
		return out
	}
	return append(out, sectionChunk{Section: d.current, Text: text})
}

// findMarker returns the index and text of the earliest complete marker.
func findMarker(s string) (int, string) {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		for m := range sectionMarkers {
			if strings.HasPrefix(s[i:], m) {
				return i, m
			}
		}
	}
	return -1, ""
}

// partialMarkerStart returns the index of a trailing '[' that may begin a
// marker, or len(s) if none.
func partialMarkerStart(s string) int {
	i := strings.LastIndexByte(s, '[')
	if i < 0 {
		return len(s)
	}
	tail := s[i:]
	for m := range sectionMarkers {
		if len(tail) < len(m) && strings.HasPrefix(m, tail) {
			return i
		}
	}
	return len(s)
}
