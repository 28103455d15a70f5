package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresCounterRepo はserial_countersテーブルを使用したカウンター。
// 行ロックにより同時実行でも同じ値を二度返さない。
type PostgresCounterRepo struct {
	db *sql.DB
}

// NewPostgresCounterRepo はPostgresCounterRepoを生成する。
func NewPostgresCounterRepo(db *sql.DB) *PostgresCounterRepo {
	return &PostgresCounterRepo{db: db}
}

// Next はカウンターをアトミックに1進め、進めた後の値を返す。
// カウンター行が存在しない場合は1から開始する。
func (r *PostgresCounterRepo) Next(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO serial_counters (name, value, updated_at)
		 VALUES ($1, 1, now())
		 ON CONFLICT (name) DO UPDATE
		 SET value = serial_counters.value + 1, updated_at = now()
		 RETURNING value`,
		name,
	).Scan(&value)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected) {
			return 0, ErrCounterConflict
		}
		return 0, fmt.Errorf("failed to advance counter %q: %w", name, err)
	}
	return value, nil
}

// Seed はカウンターが floor 未満なら floor に引き上げる。
func (r *PostgresCounterRepo) Seed(ctx context.Context, name string, floor int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO serial_counters (name, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE
		 SET value = GREATEST(serial_counters.value, EXCLUDED.value), updated_at = now()`,
		name, floor,
	)
	if err != nil {
		return fmt.Errorf("failed to seed counter %q: %w", name, err)
	}
	return nil
}

var (
	_ CounterStore  = (*PostgresCounterRepo)(nil)
	_ CounterSeeder = (*PostgresCounterRepo)(nil)
)
