package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/redis/go-redis/v9"
)

const ticketUpdateMaxRetries = 5

// RedisTicketStore はRedisを使用したOTPチケットストア。
// キーの有効期限はチケットの期限に retention を加えた値とし、
// 期限後もしばらくは使用済み判定ができるようにする。
type RedisTicketStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisTicketStore はRedisTicketStoreを生成する。
func NewRedisTicketStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisTicketStore {
	return &RedisTicketStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

// Save はチケットを保存する。
func (s *RedisTicketStore) Save(ctx context.Context, ticket *model.OTPTicket) error {
	data, err := encodeTicket(ticket)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(ticket.ID), data, s.ttl(ticket)).Err(); err != nil {
		return fmt.Errorf("failed to save otp ticket: %w", err)
	}
	return nil
}

// Update はWATCHによる楽観ロックで fn を適用する。
// 競合した場合は ticketUpdateMaxRetries 回まで再試行する。
func (s *RedisTicketStore) Update(ctx context.Context, id string, fn func(ticket *model.OTPTicket) error) (*model.OTPTicket, error) {
	key := s.key(id)

	for i := 0; i < ticketUpdateMaxRetries; i++ {
		var updated *model.OTPTicket
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrTicketNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to get otp ticket: %w", err)
			}

			ticket, err := decodeTicket(data)
			if err != nil {
				return err
			}
			if err := fn(ticket); err != nil {
				return err
			}

			encoded, err := encodeTicket(ticket)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl(ticket))
				return nil
			})
			if err != nil {
				return err
			}
			updated = ticket
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, ErrTicketConflict
}

func (s *RedisTicketStore) key(id string) string {
	return s.prefix + ":otp:" + id
}

func (s *RedisTicketStore) ttl(ticket *model.OTPTicket) time.Duration {
	ttl := ticket.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// ticketRecord はRedisに保存するチケットのJSON表現。
type ticketRecord struct {
	ID           string         `json:"id"`
	PendingID    string         `json:"pendingId"`
	Code         string         `json:"code"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"maxAttempts"`
	IssuedAt     time.Time      `json:"issuedAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	Consumed     bool           `json:"consumed"`
	ConsumedAt   *time.Time     `json:"consumedAt,omitempty"`
	Invalidated  bool           `json:"invalidated"`
	SupersededBy string         `json:"supersededBy,omitempty"`
	Draft        *accountRecord `json:"draft,omitempty"`
}

// accountRecord は保留中の登録内容のJSON表現。
type accountRecord struct {
	Email              string         `json:"email"`
	Username           string         `json:"username,omitempty"`
	PasswordHash       string         `json:"passwordHash,omitempty"`
	RegistrationModule int            `json:"registrationModule"`
	FirstName          string         `json:"firstName,omitempty"`
	LastName           string         `json:"lastName,omitempty"`
	PhoneNumber        string         `json:"phoneNumber,omitempty"`
	Address            *model.Address `json:"address,omitempty"`
	Gender             string         `json:"gender,omitempty"`
	DateOfBirth        *time.Time     `json:"dateOfBirth,omitempty"`
	Company            string         `json:"company,omitempty"`
	JobTitle           string         `json:"jobTitle,omitempty"`
	SocialProvider     string         `json:"socialProvider,omitempty"`
	IsEmailVerified    bool           `json:"isEmailVerified"`
	IsPhoneVerified    bool           `json:"isPhoneVerified"`
}

func encodeTicket(t *model.OTPTicket) ([]byte, error) {
	rec := ticketRecord{
		ID:           t.ID,
		PendingID:    t.PendingID,
		Code:         t.Code,
		Attempts:     t.Attempts,
		MaxAttempts:  t.MaxAttempts,
		IssuedAt:     t.IssuedAt,
		ExpiresAt:    t.ExpiresAt,
		Consumed:     t.Consumed,
		ConsumedAt:   t.ConsumedAt,
		Invalidated:  t.Invalidated,
		SupersededBy: t.SupersededBy,
	}
	if d := t.Draft; d != nil {
		rec.Draft = &accountRecord{
			Email:              d.Email,
			Username:           d.Username,
			PasswordHash:       d.PasswordHash,
			RegistrationModule: int(d.RegistrationModule),
			FirstName:          d.FirstName,
			LastName:           d.LastName,
			PhoneNumber:        d.PhoneNumber,
			Address:            d.Address,
			Gender:             d.Gender,
			DateOfBirth:        d.DateOfBirth,
			Company:            d.Company,
			JobTitle:           d.JobTitle,
			SocialProvider:     string(d.SocialProvider),
			IsEmailVerified:    d.IsEmailVerified,
			IsPhoneVerified:    d.IsPhoneVerified,
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode otp ticket: %w", err)
	}
	return data, nil
}

func decodeTicket(data []byte) (*model.OTPTicket, error) {
	var rec ticketRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode otp ticket: %w", err)
	}

	t := &model.OTPTicket{
		ID:           rec.ID,
		PendingID:    rec.PendingID,
		Code:         rec.Code,
		Attempts:     rec.Attempts,
		MaxAttempts:  rec.MaxAttempts,
		IssuedAt:     rec.IssuedAt,
		ExpiresAt:    rec.ExpiresAt,
		Consumed:     rec.Consumed,
		ConsumedAt:   rec.ConsumedAt,
		Invalidated:  rec.Invalidated,
		SupersededBy: rec.SupersededBy,
	}
	if d := rec.Draft; d != nil {
		t.Draft = &model.Account{
			Email:              d.Email,
			Username:           d.Username,
			PasswordHash:       d.PasswordHash,
			RegistrationModule: model.Module(d.RegistrationModule),
			FirstName:          d.FirstName,
			LastName:           d.LastName,
			PhoneNumber:        d.PhoneNumber,
			Address:            d.Address,
			Gender:             d.Gender,
			DateOfBirth:        d.DateOfBirth,
			Company:            d.Company,
			JobTitle:           d.JobTitle,
			SocialProvider:     model.SocialProvider(d.SocialProvider),
			IsEmailVerified:    d.IsEmailVerified,
			IsPhoneVerified:    d.IsPhoneVerified,
		}
	}
	return t, nil
}

var _ TicketStore = (*RedisTicketStore)(nil)
