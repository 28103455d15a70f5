// Package cleanup は期限切れOTPチケットの定期削除ジョブを提供する。
// Redisに保存したチケットはキーの有効期限で消えるため、
// インメモリのチケットストアを使う場合にのみ起動する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は失効後もチケットを保持する期間。
// この間は使用済み・期限切れの判定ができる。
const DefaultRetention = 1 * time.Hour

// Sweeper は before より前に失効したチケットを削除する。
// repository.MemoryTicketStore が実装する。
type Sweeper interface {
	Sweep(ctx context.Context, before time.Time) (int, error)
}

// CleanupJob は失効から保持期間を過ぎたOTPチケットの削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	store     Sweeper
	logger    *slog.Logger
	now       func() time.Time
	Retention time.Duration // 失効後の保持期間（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store Sweeper, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:     store,
		logger:    logger,
		now:       time.Now,
		Retention: DefaultRetention,
	}
}

// Run は失効から Retention 以上経過したチケットを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	deletedCount, err := j.store.Sweep(ctx, start.Add(-j.Retention))
	if err != nil {
		j.logger.Error("OTPチケットのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("OTPチケットのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("OTPチケットのクリーンアップが完了しました",
		slog.Int("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後と interval ごとに Run を実行する。ctx がキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
