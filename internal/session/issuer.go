// Package session はセッショントークン（JWT）の発行と検証を提供する。
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/accountd/internal/model"
)

// DefaultTTL はセッショントークンのデフォルト有効期間。
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken は署名、形式、発行者のいずれかが不正なトークンを表す。
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenExpired は有効期限切れのトークンを表す。
	ErrTokenExpired = errors.New("session token expired")
)

// Claims はセッショントークンのクレーム。subject はアカウントID。
type Claims struct {
	SerialNumber string `json:"sn,omitempty"`
	Module       int    `json:"mod,omitempty"`
	jwt.RegisteredClaims
}

// Token は発行済みのセッショントークン。
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// AccountRef はトークンから取り出したアカウントの参照。
type AccountRef struct {
	AccountID    string
	SerialNumber string
	ExpiresAt    time.Time
}

// Config はIssuerの設定。
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Issuer はHS256で署名したセッショントークンを発行・検証する。
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer はIssuerを生成する。Secretが空の場合はエラーを返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// Issue はアカウントに対するセッショントークンを発行する。
func (i *Issuer) Issue(account *model.Account) (*Token, error) {
	now := i.now()
	expiresAt := now.Add(i.cfg.TTL)

	claims := Claims{
		SerialNumber: account.SerialNumber,
		Module:       int(account.RegistrationModule),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	// JWTの有効期限は秒精度のため、返す期限も合わせる
	return &Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify はトークンを検証してアカウント参照を返す。
// 期限切れは ErrTokenExpired、それ以外の不正は ErrInvalidToken を返す。
func (i *Issuer) Verify(token string) (*AccountRef, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	claims := new(Claims)
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &AccountRef{
		AccountID:    claims.Subject,
		SerialNumber: claims.SerialNumber,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}
