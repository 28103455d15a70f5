package otp

import (
	"context"
	"log/slog"

	"github.com/hitoshi/accountd/internal/model"
)

// LogSender はコードを構造化ログに出力する送信者。
// 開発環境でメールやSMSの代わりに使う。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send はコードをログに出力する。
func (s *LogSender) Send(ctx context.Context, ticket *model.OTPTicket, to Recipient) error {
	s.logger.InfoContext(ctx, "otp code issued",
		slog.String("ticket_id", ticket.ID),
		slog.String("email", to.Email),
		slog.String("phone", to.Phone),
		slog.String("code", ticket.Code),
		slog.Time("expires_at", ticket.ExpiresAt),
	)
	return nil
}

var _ Sender = (*LogSender)(nil)
