// Package credential はパスワードのハッシュ化と照合を提供する。
package credential

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost はbcryptのデフォルトコスト。
const DefaultCost = 10

// MaxPasswordBytes はbcryptが扱える入力の最大バイト数。
const MaxPasswordBytes = 72

// ErrEmptyPassword は空のパスワードをハッシュ化しようとしたことを表す。
var ErrEmptyPassword = errors.New("password is empty")

// Hasher はbcryptによるパスワードハッシャー。
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewHasher はHasherを生成する。範囲外のコストはデフォルト値に置き換える。
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash はパスワードをソルト付きでハッシュ化する。
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
// ハッシュが空または不正な形式の場合はfalseを返す。
func (h *Hasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashIfChanged は password が current と異なる場合だけハッシュ化する。
// password が空なら current をそのまま返す。ハッシュ済みの値を再度ハッシュ化することはない。
func (h *Hasher) HashIfChanged(password, current string) (hash string, changed bool, err error) {
	if password == "" {
		return current, false, nil
	}
	if current != "" && h.Verify(password, current) {
		return current, false, nil
	}
	hash, err = h.Hash(password)
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// VerifyDummy は存在しないアカウントへのログインでも照合と同程度の時間をかけるために、
// ダミーのハッシュに対して照合を行う。結果は常にfalse。
func (h *Hasher) VerifyDummy(password string) bool {
	h.dummyOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.cost)
		if err == nil {
			h.dummyHash = b
		}
	})
	if h.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
	}
	return false
}
