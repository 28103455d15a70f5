// Package account はアカウントの無効化と集計を提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/repository"
	"github.com/hitoshi/accountd/internal/serial"
)

// Service はアカウント管理のサービス層。
type Service struct {
	accounts    repository.AccountRepository
	serialWidth int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// serialWidth はアカウントが1件もない場合に返すシリアル番号の桁数。
func NewService(accounts repository.AccountRepository, serialWidth int) *Service {
	if serialWidth <= 0 {
		serialWidth = serial.DefaultMinWidth
	}
	return &Service{accounts: accounts, serialWidth: serialWidth, now: time.Now}
}

// Deactivate はアカウントを無効化する。レコードは削除しない。
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to find account: %w", err)
	}
	if acc == nil {
		return model.NewAccountNotFoundError()
	}
	if !acc.IsActive {
		return model.NewInvalidTokenError()
	}

	if err := s.accounts.Deactivate(ctx, accountID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}

	slog.Info("account deactivated",
		slog.String("account_id", accountID),
		slog.String("serial_number", acc.SerialNumber),
	)
	return nil
}

// Stats はアカウントの集計値を返す。全モジュールの件数を0埋めで含める。
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	stats, err := s.accounts.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate accounts: %w", err)
	}

	counts := make(map[model.Module]int, len(model.AllModules()))
	for _, m := range model.AllModules() {
		counts[m] = stats.PerModuleCounts[m]
	}
	stats.PerModuleCounts = counts

	if stats.LastSerialNumber == "" {
		stats.LastSerialNumber = serial.Format(0, s.serialWidth)
	}
	return stats, nil
}

// Health はアカウントストアへの疎通を確認する。
// 疎通できない場合もエラーは返さず Reachable=false とする。
func (s *Service) Health(ctx context.Context) *model.Health {
	n, err := s.accounts.Count(ctx)
	if err != nil {
		slog.Warn("account store unreachable", slog.String("error", err.Error()))
		return &model.Health{Reachable: false}
	}
	return &model.Health{Reachable: true, AccountCount: n}
}
