// Package logger はJSON構造化ログの初期化を行う。
// パスワードやAPIキーなどの秘匿値は出力前にマスクする。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// RedactedValue はマスク後に出力される値。
const RedactedValue = "[REDACTED]"

// level は全ロガーで共有するログレベル。設定読み込み後にSetLevelで変更する。
var level = new(slog.LevelVar)

// sensitiveKeys に一致する属性キーは値をマスクする（大文字小文字は区別しない）。
var sensitiveKeys = map[string]struct{}{
	"password":       {},
	"password2":      {},
	"secret":         {},
	"token":          {},
	"api_key":        {},
	"authorization":  {},
	"session_id":     {},
	"stripe_sig":     {},
	"client_secret":  {},
	"webhook_secret": {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// SetLevel はdebug/info/warn/errorのいずれかでログレベルを変更する。
// 空文字列はinfoとして扱う。
func SetLevel(name string) error {
	if name == "" {
		level.Set(slog.LevelInfo)
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.Set(l)
	return nil
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}
