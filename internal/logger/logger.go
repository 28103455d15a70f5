// Package logger はJSON構造化ログの設定を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// RedactedValue は秘匿対象の属性に出力する値。
const RedactedValue = "[REDACTED]"

// 秘匿対象の属性キー（小文字）
var sensitiveKeys = map[string]bool{
	"password":         true,
	"confirm_password": true,
	"confirmpassword":  true,
	"password_hash":    true,
	"token":            true,
	"authorization":    true,
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// パスワードやトークンのキーを持つ属性は値を伏せて出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
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

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}
