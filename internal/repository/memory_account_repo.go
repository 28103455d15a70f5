package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/accountd/internal/model"
)

// MemoryAccountRepo はプロセス内メモリを使用したアカウントリポジトリ。
// PostgreSQL実装と同じ一意制約を持つ。開発環境とテストで使用する。
type MemoryAccountRepo struct {
	mu       sync.RWMutex
	byID     map[string]*model.Account
	byEmail  map[string]string
	byName   map[string]string
	bySerial map[string]string
	bySocial map[string]string
}

// NewMemoryAccountRepo はMemoryAccountRepoを生成する。
func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{
		byID:     make(map[string]*model.Account),
		byEmail:  make(map[string]string),
		byName:   make(map[string]string),
		bySerial: make(map[string]string),
		bySocial: make(map[string]string),
	}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].Clone(), nil
}

// FindByEmail は正規化済みメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

// FindByUsername はユーザー名でアカウントを検索する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByUsername(_ context.Context, username string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.ToLower(username)]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

// ExistsByEmail は同じメールアドレスのアカウントが存在するかを返す。
func (r *MemoryAccountRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[email]
	return ok, nil
}

// ExistsByUsername は同じユーザー名のアカウントが存在するかを返す。
func (r *MemoryAccountRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[strings.ToLower(username)]
	return ok, nil
}

// Create はアカウントを作成する。
// 制約の検査順はPostgreSQLの制約定義順に合わせている。
func (r *MemoryAccountRepo) Create(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySerial[a.SerialNumber]; ok {
		return ErrDuplicateSerialNumber
	}
	if _, ok := r.byEmail[a.Email]; ok {
		return ErrDuplicateEmail
	}
	name := strings.ToLower(a.Username)
	if name != "" {
		if _, ok := r.byName[name]; ok {
			return ErrDuplicateUsername
		}
	}
	social := socialKey(a)
	if social != "" {
		if _, ok := r.bySocial[social]; ok {
			return ErrDuplicateSocialIdentity
		}
	}

	stored := a.Clone()
	r.byID[a.ID] = stored
	r.bySerial[a.SerialNumber] = a.ID
	r.byEmail[a.Email] = a.ID
	if name != "" {
		r.byName[name] = a.ID
	}
	if social != "" {
		r.bySocial[social] = a.ID
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *MemoryAccountRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		a.LastLoginAt = &at
		a.UpdatedAt = at
	}
	return nil
}

// Deactivate はアカウントを無効化する。
func (r *MemoryAccountRepo) Deactivate(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("account not found: %s", id)
	}
	a.IsActive = false
	a.UpdatedAt = at
	return nil
}

// Stats は登録モジュールごとの件数と最新のシリアル番号を集計する。
func (r *MemoryAccountRepo) Stats(_ context.Context) (*model.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &model.Stats{PerModuleCounts: make(map[model.Module]int)}
	var lastSeq int64
	for _, a := range r.byID {
		stats.PerModuleCounts[a.RegistrationModule]++
		stats.TotalAccounts++
		if a.SerialSeq > lastSeq {
			lastSeq = a.SerialSeq
			stats.LastSerialNumber = a.SerialNumber
		}
	}
	return stats, nil
}

// Count はアカウントの総数を返す。
func (r *MemoryAccountRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), nil
}

// MaxSerialSeq は serial_seq の最大値を返す。
func (r *MemoryAccountRepo) MaxSerialSeq(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var highest int64
	for _, a := range r.byID {
		if a.SerialSeq > highest {
			highest = a.SerialSeq
		}
	}
	return highest, nil
}

func socialKey(a *model.Account) string {
	if a.SocialID == "" {
		return ""
	}
	return string(a.SocialProvider) + "\x00" + a.SocialID
}

var (
	_ AccountRepository = (*MemoryAccountRepo)(nil)
	_ SerialSeqReader   = (*MemoryAccountRepo)(nil)
)
