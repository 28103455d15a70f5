package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// seedScript はキーの値が ARGV[1] 未満（未設定を含む）の場合だけ ARGV[1] を書き込む。
var seedScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('SET', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// RedisCounter はRedisのINCRを使用したカウンター。
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter はRedisCounterを生成する。prefixはキーの名前空間に使う。
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

// Next はカウンターをアトミックに1進め、進めた後の値を返す。
func (c *RedisCounter) Next(ctx context.Context, name string) (int64, error) {
	value, err := c.client.Incr(ctx, c.key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %q: %w", name, err)
	}
	return value, nil
}

// Seed はカウンターが floor 未満なら floor に引き上げる。
// 比較と書き込みはスクリプト内で行うため、同時に INCR されても値が戻ることはない。
func (c *RedisCounter) Seed(ctx context.Context, name string, floor int64) error {
	if err := seedScript.Run(ctx, c.client, []string{c.key(name)}, floor).Err(); err != nil {
		return fmt.Errorf("failed to seed counter %q: %w", name, err)
	}
	return nil
}

func (c *RedisCounter) key(name string) string {
	return c.prefix + ":counter:" + name
}

var (
	_ CounterStore  = (*RedisCounter)(nil)
	_ CounterSeeder = (*RedisCounter)(nil)
)
