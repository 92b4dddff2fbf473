package pipeline

import (
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// UnknownLanguage is the BCP-47 tag for an undetermined language.
const UnknownLanguage = "und"

var supportedLanguages = map[whatlanggo.Lang]string{
	whatlanggo.Eng: "en",
	whatlanggo.Cmn: "zh",
	whatlanggo.Jpn: "ja",
	whatlanggo.Kor: "ko",
	whatlanggo.Fra: "fr",
	whatlanggo.Deu: "de",
	whatlanggo.Spa: "es",
	whatlanggo.Por: "pt",
	whatlanggo.Rus: "ru",
	whatlanggo.Ita: "it",
}

// DetectLanguage returns a supported ISO 639-1 code for text, or "und".
// It never fails.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if code, ok := supportedLanguages[info.Lang]; ok {
		return code
	}
	return detectByScript(text)
}

// detectByScript covers short CJK inputs where statistical detection has
// too little signal. Kana wins over Han so Japanese with kanji is ja.
func detectByScript(text string) string {
	var han, kana, hangul int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		}
	}
	switch {
	case kana > 0:
		return "ja"
	case hangul > 0:
		return "ko"
	case han > 0:
		return "zh"
	}
	return UnknownLanguage
}
