package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/repository"
)

// mockCounter はテスト用のカウンターモック。
type mockCounter struct {
	nextFn func(ctx context.Context, name string) (int64, error)
	calls  int
}

func (m *mockCounter) Next(ctx context.Context, name string) (int64, error) {
	m.calls++
	return m.nextFn(ctx, name)
}

type retryCounter struct {
	mu    sync.Mutex
	count int
}

func (r *retryCounter) RecordSerialRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func TestFormat(t *testing.T) {
	tests := []struct {
		seq   int64
		width int
		want  string
	}{
		{1, 4, "0001"},
		{42, 4, "0042"},
		{9999, 4, "9999"},
		{10000, 4, "10000"},
		{123456, 4, "123456"},
		{7, 6, "000007"},
	}
	for _, tt := range tests {
		if got := Format(tt.seq, tt.width); got != tt.want {
			t.Errorf("Format(%d, %d) = %q, want %q", tt.seq, tt.width, got, tt.want)
		}
	}
}

func TestAllocator_FirstSerialIsPadded(t *testing.T) {
	alloc := NewAllocator(repository.NewMemoryCounter(), Config{}, nil)

	s, err := alloc.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if s.Seq != 1 || s.Number != "0001" {
		t.Errorf("Allocate = %+v, want {1 0001}", s)
	}
}

func TestAllocator_ConcurrentAllocationsAreDistinct(t *testing.T) {
	alloc := NewAllocator(repository.NewMemoryCounter(), Config{}, nil)
	ctx := context.Background()

	const n = 200
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := alloc.Allocate(ctx)
			if err != nil {
				t.Errorf("Allocate returned error: %v", err)
				return
			}
			results <- s.Number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for num := range results {
		if seen[num] {
			t.Errorf("serial %s allocated twice", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Errorf("distinct serials = %d, want %d", len(seen), n)
	}
}

func TestAllocator_RetriesOnConflict(t *testing.T) {
	observer := &retryCounter{}
	counter := &mockCounter{}
	counter.nextFn = func(ctx context.Context, name string) (int64, error) {
		if counter.calls < 3 {
			return 0, repository.ErrCounterConflict
		}
		return 12, nil
	}
	alloc := NewAllocator(counter, Config{Backoff: time.Millisecond}, observer)

	s, err := alloc.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if s.Number != "0012" {
		t.Errorf("Number = %q, want 0012", s.Number)
	}
	if observer.count != 2 {
		t.Errorf("retry count = %d, want 2", observer.count)
	}
}

func TestAllocator_GivesUpAfterMaxRetries(t *testing.T) {
	counter := &mockCounter{nextFn: func(ctx context.Context, name string) (int64, error) {
		return 0, repository.ErrCounterConflict
	}}
	alloc := NewAllocator(counter, Config{MaxRetries: 3, Backoff: time.Millisecond}, nil)

	_, err := alloc.Allocate(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Allocate error = %v, want ErrUnavailable", err)
	}
	if counter.calls != 3 {
		t.Errorf("counter calls = %d, want 3", counter.calls)
	}
}

func TestAllocator_BackendFailureIsUnavailable(t *testing.T) {
	counter := &mockCounter{nextFn: func(ctx context.Context, name string) (int64, error) {
		return 0, errors.New("connection refused")
	}}
	alloc := NewAllocator(counter, Config{}, nil)

	_, err := alloc.Allocate(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Allocate error = %v, want ErrUnavailable", err)
	}
	if counter.calls != 1 {
		t.Errorf("non-conflict errors must not be retried, calls = %d", counter.calls)
	}
}

func TestAllocator_UsesConfiguredCounterName(t *testing.T) {
	var gotName string
	counter := &mockCounter{nextFn: func(ctx context.Context, name string) (int64, error) {
		gotName = name
		return 1, nil
	}}
	alloc := NewAllocator(counter, Config{CounterName: "tenant-a"}, nil)

	if _, err := alloc.Allocate(context.Background()); err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if gotName != "tenant-a" {
		t.Errorf("counter name = %q, want tenant-a", gotName)
	}
}

// seqReaderFunc は関数をSerialSeqReaderとして扱うアダプター。
type seqReaderFunc func(ctx context.Context) (int64, error)

func (f seqReaderFunc) MaxSerialSeq(ctx context.Context) (int64, error) {
	return f(ctx)
}

func TestSeedCounter_ResumesAfterCounterLoss(t *testing.T) {
	ctx := context.Background()
	accounts := repository.NewMemoryAccountRepo()

	first := NewAllocator(repository.NewMemoryCounter(), Config{}, nil)
	for i := 0; i < 6; i++ {
		s, err := first.Allocate(ctx)
		if err != nil {
			t.Fatalf("Allocate returned error: %v", err)
		}
		acc := &model.Account{
			ID:                 s.Number,
			SerialSeq:          s.Seq,
			SerialNumber:       s.Number,
			Email:              s.Number + "@example.com",
			RegistrationModule: model.ModuleEmailOnly,
		}
		if err := accounts.Create(ctx, acc); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	// 再起動でカウンターが失われた状態
	fresh := repository.NewMemoryCounter()
	floor, err := SeedCounter(ctx, fresh, accounts, "")
	if err != nil {
		t.Fatalf("SeedCounter returned error: %v", err)
	}
	if floor != 6 {
		t.Errorf("floor = %d, want 6", floor)
	}

	got, err := NewAllocator(fresh, Config{}, nil).Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if got.Number != "0007" {
		t.Errorf("Allocate after seed = %q, want 0007", got.Number)
	}
}

func TestSeedCounter_ReaderError(t *testing.T) {
	reader := seqReaderFunc(func(context.Context) (int64, error) {
		return 0, errors.New("db down")
	})

	if _, err := SeedCounter(context.Background(), repository.NewMemoryCounter(), reader, ""); err == nil {
		t.Fatal("expected error when the account store cannot be read")
	}
}
