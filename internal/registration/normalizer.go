// Package registration は6種類の登録モジュールの入力を正規化し、アカウントを作成する。
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/otp"
	"github.com/hitoshi/accountd/internal/repository"
	"github.com/hitoshi/accountd/internal/serial"
	"github.com/hitoshi/accountd/internal/session"
	"github.com/hitoshi/accountd/internal/social"
)

// DefaultMaxSerialRetries はシリアル番号の重複時に再採番する回数の上限。
const DefaultMaxSerialRetries = 5

// SerialAllocator はシリアル番号を採番する。
type SerialAllocator interface {
	Allocate(ctx context.Context) (serial.Serial, error)
}

// PasswordHasher はパスワードをハッシュ化する。
type PasswordHasher interface {
	HashIfChanged(password, current string) (hash string, changed bool, err error)
}

// SocialLinker は外部IdPの属性情報を正規化する。
type SocialLinker interface {
	Link(provider string, claims social.Claims) (*social.Identity, error)
}

// OTPService はワンタイムパスコードのチケットを管理する。
type OTPService interface {
	Issue(ctx context.Context, draft *model.Account) (*model.OTPTicket, error)
	Verify(ctx context.Context, ticketID, code string) (*model.OTPTicket, otp.Outcome, error)
	Resend(ctx context.Context, ticketID string) (*model.OTPTicket, error)
}

// TokenIssuer はセッショントークンを発行する。
type TokenIssuer interface {
	Issue(account *model.Account) (*session.Token, error)
}

// TextSanitizer は自由入力のテキストからマークアップを除去する。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Observer は登録結果を記録する。
type Observer interface {
	RecordRegistration(module string)
	RecordRegistrationFailure(code string)
	RecordSerialRetry()
}

// Config はNormalizerの設定。
type Config struct {
	MaxSerialRetries int
}

// Result は登録の結果。
// OTP_VERIFIED の1段階目では Account は nil で、Pending に発行済みチケットが入る。
// Token はパスワードなしのSOCIAL登録では nil。
type Result struct {
	Account *model.Account
	Token   *session.Token
	Pending *model.OTPTicket
}

// Normalizer は登録モジュールごとの入力をアカウントに変換し、採番して永続化する。
type Normalizer struct {
	accounts  repository.AccountRepository
	serials   SerialAllocator
	hasher    PasswordHasher
	linker    SocialLinker
	otp       OTPService
	tokens    TokenIssuer
	sanitizer TextSanitizer
	observer  Observer
	cfg       Config
	now       func() time.Time
}

// NewNormalizer はNormalizerを生成する。observer はnilでもよい。
func NewNormalizer(
	accounts repository.AccountRepository,
	serials SerialAllocator,
	hasher PasswordHasher,
	linker SocialLinker,
	otpService OTPService,
	tokens TokenIssuer,
	sanitizer TextSanitizer,
	observer Observer,
	cfg Config,
) *Normalizer {
	if cfg.MaxSerialRetries <= 0 {
		cfg.MaxSerialRetries = DefaultMaxSerialRetries
	}
	return &Normalizer{
		accounts:  accounts,
		serials:   serials,
		hasher:    hasher,
		linker:    linker,
		otp:       otpService,
		tokens:    tokens,
		sanitizer: sanitizer,
		observer:  observer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Register はモジュール番号と生の入力からアカウントを登録する。
// OTP_VERIFIED ではアカウントを作成せず、チケットを発行して返す。
func (n *Normalizer) Register(ctx context.Context, module int, fields map[string]any) (*Result, error) {
	res, err := n.register(ctx, module, fields)
	if err != nil {
		n.recordFailure(err)
		return nil, err
	}
	return res, nil
}

func (n *Normalizer) register(ctx context.Context, module int, fields map[string]any) (*Result, error) {
	m := model.Module(module)
	if !m.Valid() {
		return nil, model.NewInvalidModuleError(module)
	}

	// 1. モジュールごとの入力を検証し、アカウントの形に整える
	in, err := Decode(m, fields)
	if err != nil {
		return nil, err
	}
	acc, password, err := n.shape(in)
	if err != nil {
		return nil, err
	}
	acc.RegistrationModule = m

	// 2. 一意制約の事前チェック。最終的な判定はストアの一意制約で行う
	if err := n.checkAvailability(ctx, acc); err != nil {
		return nil, err
	}

	// 3. OTP_VERIFIED はパスワードをハッシュ化したドラフトでチケットを発行する
	if m == model.ModuleOTPVerified {
		if err := n.hashPassword(acc, password); err != nil {
			return nil, err
		}
		ticket, err := n.otp.Issue(ctx, acc)
		if err != nil {
			return nil, fmt.Errorf("failed to issue otp ticket: %w", err)
		}
		return &Result{Pending: ticket}, nil
	}

	// 4. 採番して永続化する
	if err := n.commit(ctx, acc, password); err != nil {
		return nil, err
	}
	return n.finish(acc)
}

// CompleteOTP はコードを検証し、成功した場合に保留中のドラフトからアカウントを作成する。
func (n *Normalizer) CompleteOTP(ctx context.Context, ticketID, code string) (*Result, error) {
	res, err := n.completeOTP(ctx, ticketID, code)
	if err != nil {
		n.recordFailure(err)
		return nil, err
	}
	return res, nil
}

func (n *Normalizer) completeOTP(ctx context.Context, ticketID, code string) (*Result, error) {
	if strings.TrimSpace(ticketID) == "" || strings.TrimSpace(code) == "" {
		var missing []string
		if strings.TrimSpace(ticketID) == "" {
			missing = append(missing, "ticketId")
		}
		if strings.TrimSpace(code) == "" {
			missing = append(missing, "code")
		}
		return nil, model.NewMissingRequiredFieldError(missing...)
	}

	ticket, outcome, err := n.otp.Verify(ctx, ticketID, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if err := otp.OutcomeError(outcome, ticket); err != nil {
		return nil, err
	}
	if ticket.Draft == nil {
		return nil, fmt.Errorf("otp ticket %s has no draft", ticket.ID)
	}

	acc := ticket.Draft.Clone()
	acc.IsEmailVerified = true
	acc.IsPhoneVerified = true
	acc.IsOtpVerified = true

	// チケットは消費済みのため、ここで失敗した場合は登録からやり直しとなる
	if err := n.commit(ctx, acc, ""); err != nil {
		return nil, err
	}
	return n.finish(acc)
}

// ResendOTP は保留中の登録に対してチケットを再発行する。
func (n *Normalizer) ResendOTP(ctx context.Context, ticketID string) (*model.OTPTicket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, model.NewMissingRequiredFieldError("ticketId")
	}
	return n.otp.Resend(ctx, ticketID)
}

// shape は入力をモジュールに応じて検証し、未採番のアカウントと平文パスワードを返す。
func (n *Normalizer) shape(in Input) (*model.Account, string, error) {
	switch in := in.(type) {
	case *CompleteProfileInput:
		return n.shapeCompleteProfile(in)
	case *BasicInput:
		return n.shapeBasic(in)
	case *ProfessionalInput:
		return n.shapeProfessional(in)
	case *EmailOnlyInput:
		return n.shapeEmailOnly(in)
	case *SocialInput:
		return n.shapeSocial(in)
	case *OTPVerifiedInput:
		return n.shapeOTPVerified(in)
	default:
		return nil, "", model.NewInvalidModuleError(int(in.Module()))
	}
}

func (n *Normalizer) shapeCompleteProfile(in *CompleteProfileInput) (*model.Account, string, error) {
	if err := require(
		field{"firstName", in.FirstName},
		field{"lastName", in.LastName},
		field{"email", in.Email},
		field{"phoneNumber", in.PhoneNumber},
		field{"address.street", in.Address.Street},
		field{"address.city", in.Address.City},
		field{"address.state", in.Address.State},
		field{"address.zipCode", in.Address.ZipCode},
		field{"address.country", in.Address.Country},
		field{"gender", in.Gender},
		field{"dateOfBirth", in.DateOfBirth},
		field{"password", in.Password},
	); err != nil {
		return nil, "", err
	}

	acc, err := n.identity(in.Email, in.Username)
	if err != nil {
		return nil, "", err
	}
	if acc.PhoneNumber, err = normalizePhone(in.PhoneNumber); err != nil {
		return nil, "", err
	}
	if acc.Gender, err = normalizeGender(in.Gender); err != nil {
		return nil, "", err
	}
	if acc.DateOfBirth, err = parseDateOfBirth(in.DateOfBirth, n.now()); err != nil {
		return nil, "", err
	}
	if err := checkPassword(completeProfilePolicy, in.Password, in.ConfirmPassword); err != nil {
		return nil, "", err
	}

	acc.FirstName = n.clean(in.FirstName)
	acc.LastName = n.clean(in.LastName)
	acc.Address = &model.Address{
		Street:  n.clean(in.Address.Street),
		City:    n.clean(in.Address.City),
		State:   n.clean(in.Address.State),
		ZipCode: n.clean(in.Address.ZipCode),
		Country: n.clean(in.Address.Country),
	}
	if !acc.Address.IsComplete() {
		return nil, "", model.NewInvalidFieldError("address", "マークアップを除いた結果が空になりました")
	}
	return acc, in.Password, nil
}

func (n *Normalizer) shapeBasic(in *BasicInput) (*model.Account, string, error) {
	first, last := n.names(in.FirstName, in.LastName, in.FullName)
	if err := require(
		field{"firstName", first},
		field{"lastName", last},
		field{"email", in.Email},
		field{"phoneNumber", in.PhoneNumber},
		field{"password", in.Password},
	); err != nil {
		return nil, "", err
	}

	acc, err := n.identity(in.Email, in.Username)
	if err != nil {
		return nil, "", err
	}
	if acc.PhoneNumber, err = normalizePhone(in.PhoneNumber); err != nil {
		return nil, "", err
	}
	if err := checkPassword(basicPolicy, in.Password, in.ConfirmPassword); err != nil {
		return nil, "", err
	}
	acc.FirstName, acc.LastName = first, last
	return acc, in.Password, nil
}

func (n *Normalizer) shapeProfessional(in *ProfessionalInput) (*model.Account, string, error) {
	first, last := n.names(in.FirstName, in.LastName, in.FullName)
	if err := require(
		field{"firstName", first},
		field{"lastName", last},
		field{"email", in.Email},
		field{"password", in.Password},
	); err != nil {
		return nil, "", err
	}

	acc, err := n.identity(in.Email, in.Username)
	if err != nil {
		return nil, "", err
	}
	if err := checkPassword(professionalPolicy, in.Password, in.ConfirmPassword); err != nil {
		return nil, "", err
	}
	acc.FirstName, acc.LastName = first, last
	acc.Company = n.clean(in.Company)
	acc.JobTitle = n.clean(in.JobTitle)
	return acc, in.Password, nil
}

func (n *Normalizer) shapeEmailOnly(in *EmailOnlyInput) (*model.Account, string, error) {
	if err := require(
		field{"email", in.Email},
		field{"password", in.Password},
	); err != nil {
		return nil, "", err
	}

	acc, err := n.identity(in.Email, in.Username)
	if err != nil {
		return nil, "", err
	}
	if err := checkPassword(emailOnlyPolicy, in.Password, in.ConfirmPassword); err != nil {
		return nil, "", err
	}
	return acc, in.Password, nil
}

func (n *Normalizer) shapeSocial(in *SocialInput) (*model.Account, string, error) {
	if err := require(
		field{"socialProvider", in.SocialProvider},
		field{"email", in.Email},
	); err != nil {
		return nil, "", err
	}

	acc, err := n.identity(in.Email, in.Username)
	if err != nil {
		return nil, "", err
	}
	if in.Password != "" {
		if err := checkPassword(socialPolicy, in.Password, in.ConfirmPassword); err != nil {
			return nil, "", err
		}
	}

	ident, err := n.linker.Link(in.SocialProvider, social.Claims{
		ProviderID:     in.SocialID,
		Email:          acc.Email,
		ProfilePicture: in.ProfilePicture,
		Raw:            in.SocialProfile,
	})
	if err != nil {
		return nil, "", err
	}
	ident.Apply(acc)

	acc.FirstName = n.clean(in.FirstName)
	acc.LastName = n.clean(in.LastName)
	return acc, in.Password, nil
}

func (n *Normalizer) shapeOTPVerified(in *OTPVerifiedInput) (*model.Account, string, error) {
	if err := require(
		field{"email", in.Email},
		field{"phoneNumber", in.PhoneNumber},
		field{"password", in.Password},
	); err != nil {
		return nil, "", err
	}

	acc, err := n.identity(in.Email, in.Username)
	if err != nil {
		return nil, "", err
	}
	if acc.PhoneNumber, err = normalizePhone(in.PhoneNumber); err != nil {
		return nil, "", err
	}
	if err := checkPassword(otpVerifiedPolicy, in.Password, in.ConfirmPassword); err != nil {
		return nil, "", err
	}
	acc.FirstName = n.clean(in.FirstName)
	acc.LastName = n.clean(in.LastName)
	return acc, in.Password, nil
}

// identity は全モジュール共通のメールアドレスとユーザー名を検証してアカウントを生成する。
func (n *Normalizer) identity(email, username string) (*model.Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	return &model.Account{
		Email:          normalized,
		Username:       name,
		SocialProvider: model.SocialProviderManual,
	}, nil
}

// names は姓名を返す。姓名が両方空の場合は fullName を分割する。
func (n *Normalizer) names(first, last, full string) (string, string) {
	first, last = n.clean(first), n.clean(last)
	if first == "" && last == "" {
		return splitFullName(n.clean(full))
	}
	return first, last
}

func (n *Normalizer) clean(s string) string {
	if s == "" {
		return ""
	}
	return n.sanitizer.SanitizeText(s)
}

func checkPassword(policy passwordPolicy, password, confirm string) error {
	if err := policy.check(password); err != nil {
		return err
	}
	return checkConfirmation(password, confirm)
}

func (n *Normalizer) checkAvailability(ctx context.Context, acc *model.Account) error {
	exists, err := n.accounts.ExistsByEmail(ctx, acc.Email)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return model.NewDuplicateEmailError()
	}

	if acc.Username != "" {
		exists, err := n.accounts.ExistsByUsername(ctx, acc.Username)
		if err != nil {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if exists {
			return model.NewDuplicateUsernameError()
		}
	}
	return nil
}

func (n *Normalizer) hashPassword(acc *model.Account, password string) error {
	if password == "" {
		return nil
	}
	hash, changed, err := n.hasher.HashIfChanged(password, acc.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if changed {
		acc.PasswordHash = hash
	}
	return nil
}

// commit はパスワードをハッシュ化し、シリアル番号を採番してアカウントを永続化する。
// シリアル番号の重複は再採番し、それ以外の一意制約違反で使われなかった番号は再利用しない。
func (n *Normalizer) commit(ctx context.Context, acc *model.Account, password string) error {
	if err := n.hashPassword(acc, password); err != nil {
		return err
	}

	now := n.now().UTC()
	acc.ID = uuid.New().String()
	acc.IsActive = true
	acc.CreatedAt = now
	acc.UpdatedAt = now
	if acc.SocialProvider == "" {
		acc.SocialProvider = model.SocialProviderManual
	}

	for attempt := 0; attempt < n.cfg.MaxSerialRetries; attempt++ {
		s, err := n.serials.Allocate(ctx)
		if err != nil {
			slog.Error("serial allocation failed",
				slog.String("module", acc.RegistrationModule.String()),
				slog.String("error", err.Error()),
			)
			return model.NewAllocatorUnavailableError()
		}
		acc.SerialSeq = s.Seq
		acc.SerialNumber = s.Number

		err = n.accounts.Create(ctx, acc)
		if err == nil {
			slog.Info("account registered",
				slog.String("account_id", acc.ID),
				slog.String("serial_number", acc.SerialNumber),
				slog.String("module", acc.RegistrationModule.String()),
			)
			return nil
		}

		if errors.Is(err, repository.ErrDuplicateSerialNumber) {
			slog.Warn("serial number already taken, reallocating",
				slog.String("serial_number", acc.SerialNumber),
				slog.Int("attempt", attempt+1),
			)
			if n.observer != nil {
				n.observer.RecordSerialRetry()
			}
			continue
		}

		if apiErr := mapCreateError(err, acc); apiErr != nil {
			slog.Info("serial number burned",
				slog.String("serial_number", acc.SerialNumber),
				slog.String("reason", apiErr.Code),
			)
			return apiErr
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	slog.Error("serial number conflicts persisted",
		slog.Int("max_retries", n.cfg.MaxSerialRetries),
	)
	return model.NewAllocatorUnavailableError()
}

// mapCreateError はストアの一意制約違反をAPIエラーに変換する。対応しないエラーはnilを返す。
func mapCreateError(err error, acc *model.Account) *model.APIError {
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return model.NewDuplicateEmailError()
	case errors.Is(err, repository.ErrDuplicateUsername):
		return model.NewDuplicateUsernameError()
	case errors.Is(err, repository.ErrDuplicateSocialIdentity):
		return model.NewDuplicateSocialIdentityError(acc.SocialProvider)
	default:
		return nil
	}
}

// finish は登録完了を記録し、必要ならセッショントークンを発行する。
func (n *Normalizer) finish(acc *model.Account) (*Result, error) {
	if n.observer != nil {
		n.observer.RecordRegistration(acc.RegistrationModule.String())
	}

	res := &Result{Account: acc}
	// パスワードなしのSOCIAL登録はIdP経由で改めて認証する
	if acc.RegistrationModule == model.ModuleSocial && !acc.HasPassword() {
		return res, nil
	}

	token, err := n.tokens.Issue(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	res.Token = token
	return res, nil
}

func (n *Normalizer) recordFailure(err error) {
	if n.observer == nil {
		return
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		n.observer.RecordRegistrationFailure(apiErr.Code)
		return
	}
	n.observer.RecordRegistrationFailure(model.ErrCodeInternal)
}
