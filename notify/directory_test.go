package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestIdentityDirectory(t *testing.T) {
	got, err := IdentityDirectory{}.Resolve(context.Background(), "0xAbCdEF0000000000000000000000000000000001")
	if err != nil || got != "0xabcdef0000000000000000000000000000000001" {
		t.Errorf("Expected lowercased address, got %q (%v)", got, err)
	}
}

func TestRedisDirectory(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	addr := fmt.Sprintf("0xAA%038d", time.Now().UnixNano()%1_000_000_000)
	defer client.Del(context.Background(), fmt.Sprintf(KeyPlayer, "0xaa"+addr[4:]))

	d := NewRedisDirectory(client)
	got, err := d.Resolve(ctx, addr)
	if err != nil || got != "0xaa"+addr[4:] {
		t.Errorf("Expected address fallback, got %q (%v)", got, err)
	}

	if err := d.Link(ctx, addr, "telegram:42"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	got, err = d.Resolve(ctx, addr)
	if err != nil || got != "telegram:42" {
		t.Errorf("Expected linked user, got %q (%v)", got, err)
	}
}
