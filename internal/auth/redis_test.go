package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// Integration test: needs a live Redis, address via RATEDESK_REDIS_TEST_ADDR.
func redisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("RATEDESK_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("RATEDESK_REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisTicketSingleUse(t *testing.T) {
	client := redisTestClient(t)
	store := NewRedisTicketStore(client, "test_reset_ticket")
	ctx := context.Background()

	ticket := ResetTicket{
		SubjectID: "id-1",
		Token:     "tok-" + time.Now().Format("150405.000000000"),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Put(ctx, ticket, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Consume(ctx, ticket.Token)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.SubjectID != "id-1" {
		t.Fatalf("subject = %s, want id-1", got.SubjectID)
	}

	if _, err := store.Consume(ctx, ticket.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second consume: expected ErrNotFound, got %v", err)
	}
}

func TestRedisTicketTTLExpiry(t *testing.T) {
	client := redisTestClient(t)
	store := NewRedisTicketStore(client, "test_reset_ticket")
	ctx := context.Background()

	ticket := ResetTicket{
		SubjectID: "id-1",
		Token:     "ttl-" + time.Now().Format("150405.000000000"),
		ExpiresAt: time.Now().Add(50 * time.Millisecond),
	}
	if err := store.Put(ctx, ticket, 50*time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if _, err := store.Consume(ctx, ticket.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}
