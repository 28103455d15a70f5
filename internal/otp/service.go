// Package otp はワンタイムパスコードチケットの発行と検証を提供する。
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/repository"
)

// デフォルト値
const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 3
	CodeLength         = 6
)

// Outcome はコード検証の結果。
type Outcome string

const (
	OutcomeVerified         Outcome = "verified"
	OutcomeMismatch         Outcome = "mismatch"
	OutcomeExpired          Outcome = "expired"
	OutcomeAttemptsExceeded Outcome = "attempts_exceeded"
	OutcomeAlreadyConsumed  Outcome = "already_consumed"
	OutcomeSuperseded       Outcome = "superseded"
)

// Sender はコードを利用者に届ける。
type Sender interface {
	Send(ctx context.Context, ticket *model.OTPTicket, recipient Recipient) error
}

// Recipient はコードの送信先。
type Recipient struct {
	Email string
	Phone string
}

// Observer は検証結果を通知する。
type Observer interface {
	RecordOTPVerification(outcome string)
}

// Config はServiceの設定。
type Config struct {
	TTL         time.Duration
	MaxAttempts int
}

// Service はOTPチケットのライフサイクルを管理する。
// チケットは発行後 TTL で失効し、MaxAttempts 回の失敗で使用不能になる。
// 検証に成功したチケットは二度と使えない。
type Service struct {
	store    repository.TicketStore
	sender   Sender
	observer Observer
	cfg      Config
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(store repository.TicketStore, sender Sender, observer Observer, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:    store,
		sender:   sender,
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Issue は保留中の登録内容 draft に対して新しいチケットを発行し、コードを送信する。
func (s *Service) Issue(ctx context.Context, draft *model.Account) (*model.OTPTicket, error) {
	ticket, err := s.newTicket(uuid.New().String(), draft)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to save otp ticket: %w", err)
	}

	slog.Info("otp ticket issued",
		slog.String("ticket_id", ticket.ID),
		slog.String("pending_id", ticket.PendingID),
		slog.Time("expires_at", ticket.ExpiresAt),
	)

	s.send(ctx, ticket)
	return ticket, nil
}

// Resend は既存チケットを無効化し、同じ登録内容に対して新しいチケットを発行する。
// 有効期限前でも置き換えられ、置き換えられたチケットは以後検証できない。
func (s *Service) Resend(ctx context.Context, ticketID string) (*model.OTPTicket, error) {
	newID := uuid.New().String()

	var draft *model.Account
	var pendingID string
	_, err := s.store.Update(ctx, ticketID, func(t *model.OTPTicket) error {
		switch {
		case t.Consumed:
			return model.NewOTPAlreadyConsumedError()
		case t.Invalidated:
			// 先に置き換え済みのチケットからは再送信できない
			return model.NewOTPTicketNotFoundError()
		}
		t.Invalidated = true
		t.SupersededBy = newID
		draft = t.Draft
		pendingID = t.PendingID
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, model.NewOTPTicketNotFoundError()
		}
		return nil, err
	}

	ticket, err := s.newTicket(pendingID, draft)
	if err != nil {
		return nil, err
	}
	ticket.ID = newID
	if err := s.store.Save(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to save otp ticket: %w", err)
	}

	slog.Info("otp ticket reissued",
		slog.String("ticket_id", ticket.ID),
		slog.String("superseded_ticket_id", ticketID),
		slog.String("pending_id", ticket.PendingID),
	)

	s.send(ctx, ticket)
	return ticket, nil
}

// Verify はコードを照合する。
// 検証結果は常にチケットに反映されてから返る。Outcome が OutcomeVerified の場合のみ
// 返されたチケットの Draft を登録に使ってよい。
func (s *Service) Verify(ctx context.Context, ticketID, code string) (*model.OTPTicket, Outcome, error) {
	now := s.now()

	var outcome Outcome
	ticket, err := s.store.Update(ctx, ticketID, func(t *model.OTPTicket) error {
		outcome = evaluate(t, code, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, "", model.NewOTPTicketNotFoundError()
		}
		return nil, "", fmt.Errorf("failed to verify otp ticket: %w", err)
	}

	if s.observer != nil {
		s.observer.RecordOTPVerification(string(outcome))
	}
	slog.Info("otp verification",
		slog.String("ticket_id", ticketID),
		slog.String("outcome", string(outcome)),
		slog.Int("attempts", ticket.Attempts),
	)

	return ticket, outcome, nil
}

// evaluate はチケットの状態とコードから結果を決め、チケットを更新する。
// 使用済み、置き換え済み、試行回数超過、期限切れの順に判定する。
func evaluate(t *model.OTPTicket, code string, now time.Time) Outcome {
	switch {
	case t.Consumed:
		return OutcomeAlreadyConsumed
	case t.Invalidated:
		return OutcomeSuperseded
	case t.Attempts >= t.MaxAttempts:
		return OutcomeAttemptsExceeded
	case t.Expired(now):
		return OutcomeExpired
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(t.Code)) == 1 {
		t.Consumed = true
		t.ConsumedAt = &now
		return OutcomeVerified
	}

	t.Attempts++
	if t.Attempts >= t.MaxAttempts {
		return OutcomeAttemptsExceeded
	}
	return OutcomeMismatch
}

// OutcomeError は検証結果に対応するAPIエラーを返す。OutcomeVerified の場合はnil。
func OutcomeError(outcome Outcome, ticket *model.OTPTicket) error {
	switch outcome {
	case OutcomeVerified:
		return nil
	case OutcomeMismatch:
		return model.NewOTPMismatchError(ticket.RemainingAttempts())
	case OutcomeExpired, OutcomeSuperseded:
		return model.NewOTPExpiredError()
	case OutcomeAttemptsExceeded:
		return model.NewOTPAttemptsExceededError()
	case OutcomeAlreadyConsumed:
		return model.NewOTPAlreadyConsumedError()
	default:
		return model.NewInternalError()
	}
}

func (s *Service) newTicket(pendingID string, draft *model.Account) (*model.OTPTicket, error) {
	code, err := generateCode(CodeLength)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if pendingID == "" {
		pendingID = uuid.New().String()
	}
	return &model.OTPTicket{
		ID:          uuid.New().String(),
		PendingID:   pendingID,
		Code:        code,
		MaxAttempts: s.cfg.MaxAttempts,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.TTL),
		Draft:       draft,
	}, nil
}

// send はコードを送信する。送信失敗は再送信で回復できるためログに留める。
func (s *Service) send(ctx context.Context, ticket *model.OTPTicket) {
	if s.sender == nil {
		return
	}
	var to Recipient
	if ticket.Draft != nil {
		to = Recipient{Email: ticket.Draft.Email, Phone: ticket.Draft.PhoneNumber}
	}
	if err := s.sender.Send(ctx, ticket, to); err != nil {
		slog.Error("failed to send otp code",
			slog.String("ticket_id", ticket.ID),
			slog.String("error", err.Error()),
		)
	}
}

// generateCode は暗号論的乱数から length 桁の数字コードを生成する。先頭の0も保持する。
func generateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
