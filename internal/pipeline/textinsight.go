package pipeline

import (
	"strings"

	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/database"
)

// InsightStart is the data of a text insight start event.
type InsightStart struct {
	Language string `json:"language"`
}

// InsightResult is the data of a text insight done event.
type InsightResult struct {
	Language string             `json:"language"`
	Sections map[Section]string `json:"sections"`
}

// StartTextInsight analyzes text. Language detection runs before the start
// event so it can carry the language.
func (o *Orchestrator) StartTextInsight(text string) (Handle, error) {
	if strings.TrimSpace(text) == "" {
		return Handle{}, invalid("text is empty")
	}
	if o.opts.Text == nil {
		return Handle{}, apperr.New(apperr.ServiceUnavailable, "no text model configured")
	}
	lang := DetectLanguage(text)
	return o.launch(TextInsight, InsightStart{Language: lang}, func(inv *Invocation) error {
		return o.runTextInsight(inv, text, lang)
	})
}

func (o *Orchestrator) runTextInsight(inv *Invocation, text, lang string) error {
	stream, err := o.opts.Text.Stream(inv.Context(), insightRequest(text, lang))
	if err != nil {
		return err
	}

	var (
		demux    sectionDemux
		raw      strings.Builder
		sections = make(map[Section]*strings.Builder, 6)
	)
	route := func(chunks []sectionChunk) {
		for _, c := range chunks {
			b, ok := sections[c.Section]
			if !ok {
				b = &strings.Builder{}
				sections[c.Section] = b
			}
			b.WriteString(c.Text)
			inv.Emit(deltaEvent(string(c.Section), c.Text, ""))
		}
	}

	err = pump(inv, stream, func(frag string) {
		raw.WriteString(frag)
		route(demux.Feed(frag))
	})
	route(demux.Flush())
	if err != nil {
		return err
	}

	result := InsightResult{Language: lang, Sections: make(map[Section]string, 6)}
	var missing []string
	for _, s := range Sections() {
		b, ok := sections[s]
		if !ok || strings.TrimSpace(b.String()) == "" {
			missing = append(missing, string(s))
			continue
		}
		result.Sections[s] = strings.TrimSpace(b.String())
	}
	if len(missing) > 0 {
		return fail(apperr.ServiceUnavailable, "incomplete response, missing sections: %s", strings.Join(missing, ", "))
	}

	if !inv.Emit(doneEvent(result)) {
		return nil
	}
	if o.opts.Records != nil {
		o.opts.Records.RecordQuery(database.QueryRecord{
			InputText:        text,
			Source:           string(TextInsight),
			DetectedLanguage: lang,
			AnalysisResult:   raw.String(),
			Provider:         o.opts.Text.Name() + "/" + o.opts.Text.Model(),
		})
	}
	return nil
}
