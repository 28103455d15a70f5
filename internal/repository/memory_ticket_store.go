package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/accountd/internal/model"
)

// MemoryTicketStore はプロセス内メモリのOTPチケットストア。
// 期限切れチケットは読み出し時には削除せず、Sweep で一括削除する。
type MemoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]*model.OTPTicket
}

// NewMemoryTicketStore はMemoryTicketStoreを生成する。
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]*model.OTPTicket)}
}

// Save はチケットを保存する。
func (s *MemoryTicketStore) Save(_ context.Context, ticket *model.OTPTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket.ID] = ticket.Clone()
	return nil
}

// Update はロックを保持したまま fn を適用する。
func (s *MemoryTicketStore) Update(_ context.Context, id string, fn func(ticket *model.OTPTicket) error) (*model.OTPTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}

	work := current.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.tickets[id] = work
	return work.Clone(), nil
}

// Sweep は before より前に期限切れとなったチケットを削除し、削除件数を返す。
func (s *MemoryTicketStore) Sweep(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tickets {
		if t.ExpiresAt.Before(before) {
			delete(s.tickets, id)
			removed++
		}
	}
	return removed, nil
}

var _ TicketStore = (*MemoryTicketStore)(nil)
