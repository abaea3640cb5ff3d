package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ TicketStore = (*RedisTicketStore)(nil)

// RedisTicketStore keeps reset tickets in Redis. The TTL on the key enforces
// expiry and GETDEL gives the atomic single-use consumption: once redeemed,
// a second consume of the same token sees nothing.
type RedisTicketStore struct {
	client *redis.Client
	prefix string
}

func NewRedisTicketStore(client *redis.Client, prefix string) *RedisTicketStore {
	if prefix == "" {
		prefix = "reset_ticket"
	}
	return &RedisTicketStore{client: client, prefix: prefix}
}

type ticketRecord struct {
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisTicketStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *RedisTicketStore) Put(ctx context.Context, ticket ResetTicket, ttl time.Duration) error {
	if ticket.Token == "" {
		return fmt.Errorf("%w: ticket token is required", ErrInvalidInput)
	}
	data, err := json.Marshal(ticketRecord{SubjectID: ticket.SubjectID, ExpiresAt: ticket.ExpiresAt})
	if err != nil {
		return fmt.Errorf("encode reset ticket: %w", err)
	}
	if err := s.client.Set(ctx, s.key(ticket.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put reset ticket: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisTicketStore) Consume(ctx context.Context, token string) (*ResetTicket, error) {
	data, err := s.client.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: consume reset ticket: %v", ErrStoreUnavailable, err)
	}
	var rec ticketRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode reset ticket: %w", err)
	}
	return &ResetTicket{SubjectID: rec.SubjectID, Token: token, ExpiresAt: rec.ExpiresAt}, nil
}
