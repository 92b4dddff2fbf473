package pipeline

import "strings"

// Completion is the parsed reply of the OCR completion prompt.
type Completion struct {
	Corrected string   `json:"corrected"`
	Inferred  []string `json:"inferred_phrases"`
}

// ParseCompletion extracts the [CORRECTED] and [INFERRED] blocks. Lines
// after [CORRECTED] continue the corrected text until [INFERRED]. Without
// a [CORRECTED] block the whole response is the corrected text.
func ParseCompletion(response string) Completion {
	var (
		corrected   []string
		inferred    = []string{}
		inCorrected bool
		found       bool
	)
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "[CORRECTED]"):
			corrected = []string{strings.TrimSpace(strings.TrimPrefix(line, "[CORRECTED]"))}
			inCorrected, found = true, true
		case strings.HasPrefix(line, "[INFERRED]"):
			inCorrected = false
			list := strings.TrimSpace(strings.TrimPrefix(line, "[INFERRED]"))
			if list == "" || strings.EqualFold(list, "none") {
				continue
			}
			inferred = inferred[:0]
			for _, p := range strings.Split(list, ",") {
				if p = strings.TrimSpace(p); p != "" {
					inferred = append(inferred, p)
				}
			}
		case inCorrected:
			corrected = append(corrected, line)
		}
	}

	text := strings.TrimSpace(strings.Join(corrected, "\n"))
	if !found || text == "" {
		text = response
	}
	return Completion{Corrected: text, Inferred: inferred}
}
