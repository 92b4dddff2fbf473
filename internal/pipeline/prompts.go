package pipeline

import (
	"fmt"

	"github.com/snarg/veya-engine/internal/llm"
)

const insightSystemPrompt = `You are a language analysis assistant. Analyze the given text and reply with exactly these six sections, in this order, each starting on its own line with its tag:

[ORIGINAL] The original text as-is
[WORD_BY_WORD] Word-by-word or character-by-character explanation with meanings
[STRUCTURE] Grammatical structure analysis (sentence patterns, parts of speech)
[TRANSLATION] Accurate translation to the user's target language
[COLLOQUIAL] A more conversational version of the same meaning
[SIMPLIFIED] A simplified version using easier vocabulary

Keep each section concise. Do not write anything outside the section tags.`

const completionSystemPrompt = `You are an OCR post-processing assistant. The user provides text recognized by OCR from a screenshot. Fix obvious recognition errors, complete truncated or partially visible text, and keep the original structure.

Reply in this exact format:
[CORRECTED] The corrected and completed full text
[INFERRED] A comma-separated list of the words or phrases you inferred or corrected that were NOT in the OCR output, or "none".

Only infer content you are confident about.`

func insightRequest(text, lang string) llm.Request {
	return llm.Request{
		System: insightSystemPrompt,
		Prompt: fmt.Sprintf("Detected language: %s\n\nText to analyze:\n%s", lang, text),
	}
}

func completionRequest(ocr string) llm.Request {
	return llm.Request{
		System: completionSystemPrompt,
		Prompt: "OCR recognized text:\n" + ocr,
	}
}

func scriptRequest(req CastRequest) llm.Request {
	mode := "Write an immersive podcast script entirely in the target language. Explain the content naturally, as if teaching a language learner."
	if req.Mode == ModeBilingual {
		mode = "Write a bilingual podcast script. For each key phrase or sentence, present it in the original language first, then explain it in the target language."
	}
	pace := "Use a natural conversational pace and sentence length."
	if req.Speed == SpeedSlow {
		pace = "Use short, simple sentences and speak slowly and clearly."
	}
	system := fmt.Sprintf(`You are a language learning podcast host. Turn the given content into an engaging spoken explanation.

Target language: %s
%s
%s

Output only the script, ready to be read aloud. Separate segments with blank lines. No stage directions or metadata.`,
		req.TargetLanguage, mode, pace)
	return llm.Request{System: system, Prompt: req.Content}
}
