// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はユーザーが入力した表示名からHTMLを取り除く。
// bluemondayのStrictPolicyで全タグを除去し、表示名として扱える形に整える。
package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数。
const MaxNameLength = 100

// NameSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize はHTMLタグと制御文字を除去し、前後の空白を取り除いた名前を返す。
	// MaxNameLengthを超える場合は切り詰める。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() NameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名をサニタイズする。
func (s *nameSanitizer) Sanitize(raw string) string {
	// StrictPolicyは&などをエスケープするため、保存用に元の文字へ戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))

	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxNameLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxNameLength]))
	}
	return cleaned
}
