package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/repository"
)

const defaultOAuthStatePrefix = "oauth_state"

var _ port.OAuthStateStore = (*OAuthStateRepository)(nil)

// OAuthStateRepository stores single-use OAuth CSRF state values in Redis.
type OAuthStateRepository struct {
	client *red.Client
	prefix string
}

// NewOAuthStateRepository wires a Redis client into a state repository.
func NewOAuthStateRepository(client *red.Client, keyPrefix string) *OAuthStateRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultOAuthStatePrefix
	}

	return &OAuthStateRepository{client: client, prefix: prefix}
}

// Save records state for provider with the supplied ttl.
func (r *OAuthStateRepository) Save(ctx context.Context, state string, provider domain.Provider, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := r.key(state)
	if key == "" {
		return errors.New("state must not be empty")
	}

	ok, err := r.client.SetNX(ctx, key, string(provider), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("oauth state: %w", repository.ErrDuplicate)
	}

	return nil
}

// Consume atomically reads and deletes state, so each value can be redeemed once.
func (r *OAuthStateRepository) Consume(ctx context.Context, state string) (domain.Provider, error) {
	key := r.key(state)
	if key == "" {
		return "", repository.ErrNotFound
	}

	value, err := r.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis getdel oauth state: %w", err)
	}

	return domain.Provider(value), nil
}

func (r *OAuthStateRepository) key(state string) string {
	trimmed := strings.TrimSpace(state)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}
