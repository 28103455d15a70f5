// Package auth はパスワードによるログインとセッショントークンの検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/registration"
	"github.com/hitoshi/accountd/internal/repository"
	"github.com/hitoshi/accountd/internal/session"
)

// ログイン結果のラベル
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// PasswordVerifier はパスワードとハッシュを照合する。
type PasswordVerifier interface {
	Verify(password, hash string) bool
	// VerifyDummy は照合対象がない場合にも同程度の時間を消費する。
	VerifyDummy(password string) bool
}

// TokenManager はセッショントークンを発行・検証する。
type TokenManager interface {
	Issue(account *model.Account) (*session.Token, error)
	Verify(token string) (*session.AccountRef, error)
}

// LoginObserver はログイン結果を記録する。
type LoginObserver interface {
	RecordLogin(result string)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Account *model.Account
	Token   *session.Token
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	hasher   PasswordVerifier
	tokens   TokenManager
	observer LoginObserver
	now      func() time.Time
}

// NewService はServiceを生成する。observer はnilでもよい。
func NewService(
	accounts repository.AccountRepository,
	hasher PasswordVerifier,
	tokens TokenManager,
	observer LoginObserver,
) *Service {
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		observer: observer,
		now:      time.Now,
	}
}

// Login はメールアドレスまたはユーザー名とパスワードで認証し、セッショントークンを発行する。
// 識別子とパスワードのどちらが誤っていても同じエラーを返す。
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		var missing []string
		if identifier == "" {
			missing = append(missing, "identifier")
		}
		if password == "" {
			missing = append(missing, "password")
		}
		return nil, model.NewMissingRequiredFieldError(missing...)
	}

	// 1. 識別子からアカウントを検索
	acc, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}

	// 2. パスワードを照合。無効化済みやパスワード未設定のアカウントも同じ経路で失敗させる
	if acc == nil || !acc.IsActive || !acc.HasPassword() {
		s.hasher.VerifyDummy(password)
		s.record(LoginFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(password, acc.PasswordHash) {
		s.record(LoginFailure)
		slog.Info("login failed", slog.String("account_id", acc.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	// 3. 最終ログイン日時を記録
	now := s.now().UTC()
	if err := s.accounts.UpdateLastLogin(ctx, acc.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	acc.LastLoginAt = &now
	acc.UpdatedAt = now

	// 4. セッショントークンを発行
	token, err := s.tokens.Issue(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.record(LoginSuccess)
	slog.Info("account logged in",
		slog.String("account_id", acc.ID),
		slog.String("serial_number", acc.SerialNumber),
	)
	return &LoginResult{Account: acc, Token: token}, nil
}

// Authenticate はセッショントークンを検証し、アカウントの参照を返す。
func (s *Service) Authenticate(_ context.Context, token string) (*session.AccountRef, error) {
	if token == "" {
		return nil, model.NewInvalidTokenError()
	}
	ref, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, session.ErrTokenExpired) {
			return nil, model.NewTokenExpiredError()
		}
		return nil, model.NewInvalidTokenError()
	}
	return ref, nil
}

// CurrentAccount はトークンで認証済みのアカウントを取得する。
// 無効化済みのアカウントはトークンが有効でも認証エラーとする。
func (s *Service) CurrentAccount(ctx context.Context, accountID string) (*model.Account, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if acc == nil {
		return nil, model.NewAccountNotFoundError()
	}
	if !acc.IsActive {
		return nil, model.NewInvalidTokenError()
	}
	return acc, nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*model.Account, error) {
	if strings.Contains(identifier, "@") {
		email, err := registration.NormalizeEmail(identifier)
		if err != nil {
			// 形式不正は未登録と同じ扱い
			return nil, nil
		}
		acc, err := s.accounts.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find account by email: %w", err)
		}
		return acc, nil
	}

	acc, err := s.accounts.FindByUsername(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by username: %w", err)
	}
	return acc, nil
}

func (s *Service) record(result string) {
	if s.observer != nil {
		s.observer.RecordLogin(result)
	}
}
