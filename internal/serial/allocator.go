// Package serial はアカウントのシリアル番号を採番する。
package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/accountd/internal/repository"
)

// ErrUnavailable はカウンターから値を取得できなかったことを表す。
var ErrUnavailable = errors.New("serial allocator unavailable")

// デフォルト値
const (
	DefaultCounterName = "accounts"
	DefaultMinWidth    = 4
	DefaultMaxRetries  = 5
	defaultBackoff     = 20 * time.Millisecond
)

// Serial は採番結果。Seq はカウンターの値、Number は表示用にゼロ埋めした文字列。
type Serial struct {
	Seq    int64
	Number string
}

// Config はAllocatorの設定。
type Config struct {
	CounterName string
	MinWidth    int
	MaxRetries  int
	Backoff     time.Duration
}

// RetryObserver はカウンター競合による再試行を通知する。
type RetryObserver interface {
	RecordSerialRetry()
}

// Allocator はカウンターストアを使ってシリアル番号を採番する。
// 同じ値を二度返すことはなく、採番後に使われなかった値も再利用しない。
type Allocator struct {
	counter  repository.CounterStore
	cfg      Config
	observer RetryObserver
}

// NewAllocator はAllocatorを生成する。ゼロ値の設定項目にはデフォルト値を使う。
func NewAllocator(counter repository.CounterStore, cfg Config, observer RetryObserver) *Allocator {
	if cfg.CounterName == "" {
		cfg.CounterName = DefaultCounterName
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = DefaultMinWidth
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Allocator{counter: counter, cfg: cfg, observer: observer}
}

// Allocate は次のシリアル番号を採番する。
// カウンター競合は MaxRetries 回まで再試行し、それ以外の失敗は直ちに ErrUnavailable を返す。
func (a *Allocator) Allocate(ctx context.Context) (Serial, error) {
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		seq, err := a.counter.Next(ctx, a.cfg.CounterName)
		if err == nil {
			if seq <= 0 {
				return Serial{}, fmt.Errorf("%w: counter returned %d", ErrUnavailable, seq)
			}
			return Serial{Seq: seq, Number: Format(seq, a.cfg.MinWidth)}, nil
		}

		if !errors.Is(err, repository.ErrCounterConflict) {
			return Serial{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		slog.Warn("serial counter conflict, retrying",
			slog.String("counter", a.cfg.CounterName),
			slog.Int("attempt", attempt+1),
		)
		if a.observer != nil {
			a.observer.RecordSerialRetry()
		}

		select {
		case <-ctx.Done():
			return Serial{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(a.cfg.Backoff * time.Duration(attempt+1)):
		}
	}

	return Serial{}, fmt.Errorf("%w: counter conflict persisted after %d attempts", ErrUnavailable, a.cfg.MaxRetries)
}

// SeedCounter はカウンターを採番済みシリアルの最大値まで引き上げ、その値を返す。
// 起動時に呼び、カウンターの消失やリセットの後でも既存のシリアル番号と衝突しないようにする。
func SeedCounter(ctx context.Context, counter repository.CounterSeeder, accounts repository.SerialSeqReader, name string) (int64, error) {
	if name == "" {
		name = DefaultCounterName
	}
	floor, err := accounts.MaxSerialSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read max serial seq: %w", err)
	}
	if err := counter.Seed(ctx, name, floor); err != nil {
		return 0, fmt.Errorf("failed to seed serial counter: %w", err)
	}
	slog.Info("serial counter seeded",
		slog.String("counter", name),
		slog.Int64("floor", floor),
	)
	return floor, nil
}

// Format は seq を width 桁以上にゼロ埋めした10進文字列に変換する。
// width 桁を超える値はそのまま桁数を増やす。
func Format(seq int64, width int) string {
	s := strconv.FormatInt(seq, 10)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
