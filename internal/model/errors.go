// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, conflict, resource, expiry, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryConflict   = "conflict"
	CategoryResource   = "resource"
	CategoryExpiry     = "expiry"
	CategoryAuth       = "auth"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidModule           = "INVALID_MODULE"
	ErrCodeMissingRequiredField    = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidField            = "INVALID_FIELD"
	ErrCodeWeakPassword            = "WEAK_PASSWORD"
	ErrCodeDuplicateEmail          = "DUPLICATE_EMAIL"
	ErrCodeDuplicateUsername       = "DUPLICATE_USERNAME"
	ErrCodeDuplicateSocialIdentity = "DUPLICATE_SOCIAL_IDENTITY"
	ErrCodeAllocatorUnavailable    = "ALLOCATOR_UNAVAILABLE"
	ErrCodeOTPExpired              = "OTP_EXPIRED"
	ErrCodeOTPMismatch             = "OTP_MISMATCH"
	ErrCodeOTPAttemptsExceeded     = "OTP_ATTEMPTS_EXCEEDED"
	ErrCodeOTPAlreadyConsumed      = "OTP_ALREADY_CONSUMED"
	ErrCodeOTPTicketNotFound       = "OTP_TICKET_NOT_FOUND"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken            = "INVALID_TOKEN"
	ErrCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrCodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// HasCode はerrがcodeを持つAPIErrorかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidModuleError は無効なモジュール番号のエラーを生成する。
func NewInvalidModuleError(module int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidModule,
		Message:  fmt.Sprintf("無効な登録モジュールです: %d", module),
		Category: CategoryValidation,
		Action:   "登録モジュールには1から6のいずれかを指定してください。",
	}
}

// NewMissingRequiredFieldError は必須項目の未入力エラーを生成する。
func NewMissingRequiredFieldError(fields ...string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingRequiredField,
		Message:  fmt.Sprintf("必須項目が入力されていません: %s", strings.Join(fields, ", ")),
		Category: CategoryValidation,
		Action:   "未入力の項目を入力してから再度送信してください。",
	}
}

// NewInvalidFieldError は項目の形式エラーを生成する。
func NewInvalidFieldError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidField,
		Message:  fmt.Sprintf("%s の形式が正しくありません: %s", field, reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewWeakPasswordError はパスワードポリシー違反のエラーを生成する。
func NewWeakPasswordError(rule string) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードが要件を満たしていません: %s", rule),
		Category: CategoryValidation,
		Action:   "要件を満たすパスワードを入力してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryConflict,
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewDuplicateUsernameError はユーザー名重複エラーを生成する。
func NewDuplicateUsernameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  "このユーザー名は既に使用されています。",
		Category: CategoryConflict,
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewDuplicateSocialIdentityError は外部IdPアカウントの重複連携エラーを生成する。
func NewDuplicateSocialIdentityError(provider SocialProvider) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSocialIdentity,
		Message:  fmt.Sprintf("この%sアカウントは既に別のアカウントに連携されています。", provider),
		Category: CategoryConflict,
		Action:   "連携済みのアカウントでログインしてください。",
	}
}

// NewAllocatorUnavailableError はシリアル番号採番不能エラーを生成する。
func NewAllocatorUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeAllocatorUnavailable,
		Message:  "シリアル番号を採番できませんでした。",
		Category: CategoryResource,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOTPExpiredError はOTP有効期限切れエラーを生成する。
func NewOTPExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPExpired,
		Message:  "ワンタイムパスコードの有効期限が切れています。",
		Category: CategoryExpiry,
		Action:   "新しいコードを再送信してください。",
	}
}

// NewOTPMismatchError はOTP不一致エラーを生成する。
func NewOTPMismatchError(remaining int) *APIError {
	return &APIError{
		Code:     ErrCodeOTPMismatch,
		Message:  fmt.Sprintf("ワンタイムパスコードが一致しません（残り%d回）。", remaining),
		Category: CategoryValidation,
		Action:   "受信したコードを確認して再入力してください。",
	}
}

// NewOTPAttemptsExceededError はOTP試行回数超過エラーを生成する。
func NewOTPAttemptsExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPAttemptsExceeded,
		Message:  "ワンタイムパスコードの試行回数が上限に達しました。",
		Category: CategoryExpiry,
		Action:   "新しいコードを再送信してください。",
	}
}

// NewOTPAlreadyConsumedError は使用済みOTPの再利用エラーを生成する。
func NewOTPAlreadyConsumedError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPAlreadyConsumed,
		Message:  "このワンタイムパスコードは既に使用されています。",
		Category: CategoryExpiry,
		Action:   "登録済みのアカウントでログインしてください。",
	}
}

// NewOTPTicketNotFoundError はOTPチケット未検出エラーを生成する。
func NewOTPTicketNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPTicketNotFound,
		Message:  "認証チケットが見つかりません。",
		Category: CategoryExpiry,
		Action:   "登録をやり直してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// アカウント列挙を防ぐため、識別子とパスワードのどちらが誤りかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ログイン情報が正しくありません。",
		Category: CategoryAuth,
		Action:   "メールアドレス（またはユーザー名）とパスワードを確認してください。",
	}
}

// NewInvalidTokenError は無効なセッショントークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効です。",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewTokenExpiredError はセッショントークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "認証トークンの有効期限が切れています。",
		Category: CategoryExpiry,
		Action:   "ログインし直してください。",
	}
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "アカウントが見つかりません。",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: CategorySystem,
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの統一レスポンス用エラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
