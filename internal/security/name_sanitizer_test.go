package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize_RemovesMarkup(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "プレーンテキストはそのまま",
			input: "Acme Team",
			want:  "Acme Team",
		},
		{
			name:  "scriptタグは内容ごと除去される",
			input: "Acme<script>alert(1)</script>",
			want:  "Acme",
		},
		{
			name:  "装飾タグは除去され本文は残る",
			input: "<b>Bold</b> <i>Team</i>",
			want:  "Bold Team",
		},
		{
			name:  "イベント属性を持つタグも除去される",
			input: `<img src=x onerror="alert(1)">Team`,
			want:  "Team",
		},
		{
			name:  "アンパサンドは元の文字で保存される",
			input: "R&D",
			want:  "R&D",
		},
		{
			name:  "前後の空白と連続空白を正規化する",
			input: "  Acme \t  Team  ",
			want:  "Acme Team",
		},
		{
			name:  "改行などの制御文字は空白になる",
			input: "Acme\r\nTeam",
			want:  "Acme Team",
		},
		{
			name:  "空文字列は空文字列",
			input: "",
			want:  "",
		},
		{
			name:  "タグのみの場合は空文字列",
			input: "<p></p>",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_TruncatesLongNames(t *testing.T) {
	sanitizer := NewNameSanitizer()

	got := sanitizer.Sanitize(strings.Repeat("あ", MaxNameLength+20))

	if n := utf8.RuneCountInString(got); n != MaxNameLength {
		t.Errorf("length = %d, want %d", n, MaxNameLength)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()

	inputs := []string{
		"Acme <b>Team</b>",
		"R&D &amp; Ops",
		"  spaced   out  ",
	}

	for _, input := range inputs {
		once := sanitizer.Sanitize(input)
		twice := sanitizer.Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", input, once, twice)
		}
	}
}
