package repository

import (
	"context"
	"sync"
)

// MemoryCounter はプロセス内メモリのカウンター。単一プロセスでのみ一意性を保証する。
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCounter はMemoryCounterを生成する。
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

// Next はカウンターを1進め、進めた後の値を返す。
func (c *MemoryCounter) Next(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name]++
	return c.values[name], nil
}

// Seed はカウンターが floor 未満なら floor に引き上げる。
func (c *MemoryCounter) Seed(_ context.Context, name string, floor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values[name] < floor {
		c.values[name] = floor
	}
	return nil
}

var (
	_ CounterStore  = (*MemoryCounter)(nil)
	_ CounterSeeder = (*MemoryCounter)(nil)
)
