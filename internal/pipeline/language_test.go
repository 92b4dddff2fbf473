package pipeline

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"The weather is lovely today and we are going for a long walk in the park.", "en"},
		{"Le chat est assis sur le tapis et regarde les oiseaux dans le jardin.", "fr"},
		{"Der Hund läuft schnell über die Straße und bellt die Nachbarn an.", "de"},
		{"今日はとても良い天気ですね。", "ja"},
		{"안녕하세요 만나서 반갑습니다", "ko"},
		{"你好", "zh"},
		{"", UnknownLanguage},
		{"12345 !!!", UnknownLanguage},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestDetectByScript(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"漢字とかな", "ja"},
		{"漢字", "zh"},
		{"한국어", "ko"},
		{"latin", UnknownLanguage},
	}
	for _, tt := range tests {
		if got := detectByScript(tt.text); got != tt.want {
			t.Errorf("detectByScript(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
