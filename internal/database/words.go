package database

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// WordFrequency is one row of the word frequency table.
type WordFrequency struct {
	Word          string    `json:"word"`
	Language      string    `json:"language"`
	Count         int       `json:"count"`
	LastQueriedAt time.Time `json:"last_queried_at"`
}

// Tokenize splits text into lower-cased words. CJK characters are single
// tokens; other words are runs of letters, digits, apostrophes and hyphens.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// CountWords tokenizes text and counts each token.
func CountWords(text string) map[string]int {
	counts := make(map[string]int)
	for _, t := range Tokenize(text) {
		counts[t]++
	}
	return counts
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF, // unified ideographs
		r >= 0x3400 && r <= 0x4DBF, // extension A
		r >= 0x3040 && r <= 0x30FF, // hiragana, katakana
		r >= 0xAC00 && r <= 0xD7AF: // hangul syllables
		return true
	}
	return false
}

// TopWords returns the most frequently queried words.
func (db *DB) TopWords(ctx context.Context, limit int) ([]WordFrequency, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT word, language, count, last_queried_at
		FROM word_frequency
		ORDER BY count DESC, last_queried_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	words := []WordFrequency{}
	for rows.Next() {
		var w WordFrequency
		if err := rows.Scan(&w.Word, &w.Language, &w.Count, &w.LastQueriedAt); err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, rows.Err()
}
