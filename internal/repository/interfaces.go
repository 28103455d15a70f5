// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/accountd/internal/model"
)

// ストアの一意制約違反などを表すエラー。
// 実装はドライバ固有のエラーをこれらに変換して返す。
var (
	ErrDuplicateEmail          = errors.New("duplicate email")
	ErrDuplicateUsername       = errors.New("duplicate username")
	ErrDuplicateSerialNumber   = errors.New("duplicate serial number")
	ErrDuplicateSocialIdentity = errors.New("duplicate social identity")

	// ErrCounterConflict はカウンター更新が競合し、再試行すれば成功し得ることを表す。
	ErrCounterConflict = errors.New("counter update conflict")

	// ErrTicketNotFound は指定IDのOTPチケットが存在しないことを表す。
	ErrTicketNotFound = errors.New("otp ticket not found")
	// ErrTicketConflict はOTPチケットの更新が競合し続けたことを表す。
	ErrTicketConflict = errors.New("otp ticket update conflict")
)

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail は正規化済みメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByUsername はユーザー名（大文字小文字を区別しない）でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Account, error)

	// ExistsByEmail は同じメールアドレスのアカウントが存在するかを返す。
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// ExistsByUsername は同じユーザー名のアカウントが存在するかを返す。
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// Create はアカウントを作成する。
	// 一意制約違反は ErrDuplicateEmail などのエラーに変換される。
	Create(ctx context.Context, account *model.Account) error

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// Deactivate はアカウントを無効化する。行は削除せず、シリアル番号は再利用されない。
	Deactivate(ctx context.Context, id string, at time.Time) error

	// Stats は登録モジュールごとの件数と最新のシリアル番号を集計する。
	Stats(ctx context.Context) (*model.Stats, error)

	// Count はアカウントの総数を返す。
	Count(ctx context.Context) (int, error)
}

// CounterStore は名前付きの単調増加カウンター。
type CounterStore interface {
	// Next はカウンターをアトミックに1進め、進めた後の値を返す。
	Next(ctx context.Context, name string) (int64, error)
}

// CounterSeeder は下限値まで引き上げられるカウンター。
// 永続化されないカウンターやリセットされたカウンターを、採番済みの最大値から再開させるために使う。
type CounterSeeder interface {
	// Seed はカウンターが floor 未満なら floor に引き上げる。floor 以上なら何もしない。
	Seed(ctx context.Context, name string, floor int64) error
}

// SerialSeqReader は採番済みシリアルの最大値を返す。
type SerialSeqReader interface {
	// MaxSerialSeq は serial_seq の最大値を返す。アカウントがなければ0。
	MaxSerialSeq(ctx context.Context) (int64, error)
}

// TicketStore はOTPチケットの保存先。
type TicketStore interface {
	// Save はチケットを保存する。同じIDのチケットがあれば上書きする。
	Save(ctx context.Context, ticket *model.OTPTicket) error

	// Update はチケットを読み出して fn を適用し、他の更新と競合しなければ書き戻す。
	// fn がエラーを返した場合は何も書き込まずにそのエラーを返す。
	// チケットが存在しない場合は ErrTicketNotFound を返す。
	Update(ctx context.Context, id string, fn func(ticket *model.OTPTicket) error) (*model.OTPTicket, error)
}
