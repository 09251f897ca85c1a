// notify/directory.go
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const KeyPlayer = "player:%s"

// Directory maps an on-chain player address to the front-end user id.
type Directory interface {
	Resolve(ctx context.Context, address string) (string, error)
}

// IdentityDirectory uses the address itself as the user id.
type IdentityDirectory struct{}

func (IdentityDirectory) Resolve(_ context.Context, address string) (string, error) {
	return strings.ToLower(address), nil
}

// RedisDirectory reads the mapping the front-end writes at player:<address>.
// Unknown addresses fall back to the address.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func (d *RedisDirectory) Resolve(ctx context.Context, address string) (string, error) {
	addr := strings.ToLower(address)
	userID, err := d.client.Get(ctx, fmt.Sprintf(KeyPlayer, addr)).Result()
	if err == redis.Nil {
		return addr, nil
	}
	if err != nil {
		return addr, err
	}
	return userID, nil
}

// Link stores a mapping; the front-end normally does this at registration.
func (d *RedisDirectory) Link(ctx context.Context, address, userID string) error {
	return d.client.Set(ctx, fmt.Sprintf(KeyPlayer, strings.ToLower(address)), userID, 0).Err()
}
