// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Module は登録フロー（モジュール）の種別を表す。
// 値はクライアントが送信するモジュール番号（1〜6）と一致する。
type Module int

const (
	// ModuleCompleteProfile は全項目を入力するフル登録。
	ModuleCompleteProfile Module = 1
	// ModuleBasic は氏名・メール・電話番号による基本登録。
	ModuleBasic Module = 2
	// ModuleProfessional は最小項目によるビジネス向け登録。
	ModuleProfessional Module = 3
	// ModuleEmailOnly はメールアドレスと6文字パスワードのみの登録。
	ModuleEmailOnly Module = 4
	// ModuleSocial は外部IdPの属性情報による登録。
	ModuleSocial Module = 5
	// ModuleOTPVerified はワンタイムパスコード検証を経る登録。
	ModuleOTPVerified Module = 6
)

// AllModules は定義済みモジュールを番号順に返す。
func AllModules() []Module {
	return []Module{
		ModuleCompleteProfile,
		ModuleBasic,
		ModuleProfessional,
		ModuleEmailOnly,
		ModuleSocial,
		ModuleOTPVerified,
	}
}

// Valid はモジュール番号が定義範囲内かを返す。
func (m Module) Valid() bool {
	return m >= ModuleCompleteProfile && m <= ModuleOTPVerified
}

// String はログやメトリクスのラベルに使うモジュール名を返す。
func (m Module) String() string {
	switch m {
	case ModuleCompleteProfile:
		return "COMPLETE_PROFILE"
	case ModuleBasic:
		return "BASIC"
	case ModuleProfessional:
		return "PROFESSIONAL"
	case ModuleEmailOnly:
		return "EMAIL_ONLY"
	case ModuleSocial:
		return "SOCIAL"
	case ModuleOTPVerified:
		return "OTP_VERIFIED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(m))
	}
}

// SocialProvider は外部IdPの種別を表す。
type SocialProvider string

const (
	// SocialProviderManual は外部IdPを経由しない登録（デフォルト値）。
	SocialProviderManual   SocialProvider = "manual"
	SocialProviderGoogle   SocialProvider = "google"
	SocialProviderFacebook SocialProvider = "facebook"
	SocialProviderGitHub   SocialProvider = "github"
	SocialProviderLinkedIn SocialProvider = "linkedin"
)

// IsExternal は外部IdPとして連携可能なプロバイダーかを返す。
func (p SocialProvider) IsExternal() bool {
	switch p {
	case SocialProviderGoogle, SocialProviderFacebook, SocialProviderGitHub, SocialProviderLinkedIn:
		return true
	default:
		return false
	}
}

// Address は住所を表す。
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// IsComplete は住所の全項目が埋まっているかを返す。
func (a *Address) IsComplete() bool {
	if a == nil {
		return false
	}
	return a.Street != "" && a.City != "" && a.State != "" && a.ZipCode != "" && a.Country != ""
}

// Account は登録フローに依らない正規化済みのアカウントレコード。
// PasswordHashが空の場合はパスワード未設定（SOCIALのみ許容）を表す。
type Account struct {
	ID                 string
	SerialSeq          int64 // 採番カウンターの値。SerialNumberの並び順はこちらで判断する
	SerialNumber       string
	Email              string
	Username           string
	PasswordHash       string
	RegistrationModule Module

	FirstName   string
	LastName    string
	PhoneNumber string
	Address     *Address
	Gender      string
	DateOfBirth *time.Time
	Company     string
	JobTitle    string

	SocialProvider SocialProvider
	SocialID       string
	GoogleID       string
	FacebookID     string
	GitHubID       string
	LinkedInID     string
	ProfilePicture string
	SocialProfile  map[string]any

	IsEmailVerified bool
	IsPhoneVerified bool
	IsOtpVerified   bool

	IsActive    bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPassword はパスワードハッシュが設定されているかを返す。
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// Clone はポインタやマップを含めてアカウントを複製する。
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Address != nil {
		addr := *a.Address
		c.Address = &addr
	}
	if a.DateOfBirth != nil {
		t := *a.DateOfBirth
		c.DateOfBirth = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	if a.SocialProfile != nil {
		c.SocialProfile = make(map[string]any, len(a.SocialProfile))
		for k, v := range a.SocialProfile {
			c.SocialProfile[k] = v
		}
	}
	return &c
}

// FullName は姓名を連結した表示名を返す。
func (a *Account) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// Stats はアカウントの集計値を表す。
type Stats struct {
	TotalAccounts    int
	LastSerialNumber string
	PerModuleCounts  map[Module]int
}

// Health はアカウントストアの疎通状態を表す。
type Health struct {
	Reachable    bool
	AccountCount int
}
