package pipeline

import (
	"strings"
	"testing"
)

func demuxAll(frags []string) map[Section]string {
	var d sectionDemux
	out := map[Section]string{}
	add := func(chunks []sectionChunk) {
		for _, c := range chunks {
			out[c.Section] += c.Text
		}
	}
	for _, f := range frags {
		add(d.Feed(f))
	}
	add(d.Flush())
	return out
}

func TestSectionDemux(t *testing.T) {
	full := "preamble [ORIGINAL] Hello\n[WORD_BY_WORD] hello: a greeting\n[STRUCTURE] interjection\n" +
		"[TRANSLATION] 你好\n[COLLOQUIAL] Hi\n[SIMPLIFIED] Hi"

	tests := []struct {
		name  string
		frags []string
	}{
		{"single fragment", []string{full}},
		{"split markers", []string{"preamble [ORIG", "INAL] Hello\n[WORD_BY", "_WORD] hello: a greeting\n[STRUCTURE] interjection\n", "[TRANSLATION] 你好\n[COLLOQUIAL] Hi\n[SIMPLI", "FIED] Hi"}},
		{"one byte at a time", strings.Split(full, "")},
	}

	want := map[Section]string{
		SectionOriginal:    "Hello",
		SectionWordByWord:  "hello: a greeting",
		SectionStructure:   "interjection",
		SectionTranslation: "你好",
		SectionColloquial:  "Hi",
		SectionSimplified:  "Hi",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := demuxAll(tt.frags)
			if len(got) != len(want) {
				t.Fatalf("got %d sections, want %d: %v", len(got), len(want), got)
			}
			for s, w := range want {
				if g := strings.TrimSpace(got[s]); g != w {
					t.Errorf("%s = %q, want %q", s, g, w)
				}
			}
		})
	}
}

func TestSectionDemuxKeepsBrackets(t *testing.T) {
	got := demuxAll([]string{"[ORIGINAL] a [note] b [", "x"})
	if got[SectionOriginal] != "a [note] b [x" {
		t.Errorf("original = %q", got[SectionOriginal])
	}
}

func TestSectionDemuxNoMarkers(t *testing.T) {
	if got := demuxAll([]string{"just some text"}); len(got) != 0 {
		t.Errorf("expected nothing routed, got %v", got)
	}
}
