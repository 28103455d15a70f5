package model

import "time"

// OTPTicket は保留中の登録に対して発行されたワンタイムパスコードを表す。
// 同じ PendingID を持つチケットのうち有効なのは常に最新の1枚だけである。
type OTPTicket struct {
	ID           string
	PendingID    string
	Code         string
	Attempts     int
	MaxAttempts  int
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Consumed     bool
	ConsumedAt   *time.Time
	Invalidated  bool   // 再送信により置き換えられた
	SupersededBy string // 置き換え先のチケットID
	Draft        *Account
}

// RemainingAttempts は残りの試行回数を返す。
func (t *OTPTicket) RemainingAttempts() int {
	if r := t.MaxAttempts - t.Attempts; r > 0 {
		return r
	}
	return 0
}

// Expired は now 時点でチケットが期限切れかを返す。
func (t *OTPTicket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Clone はドラフトを含めてチケットを複製する。
func (t *OTPTicket) Clone() *OTPTicket {
	if t == nil {
		return nil
	}
	c := *t
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	c.Draft = t.Draft.Clone()
	return &c
}
