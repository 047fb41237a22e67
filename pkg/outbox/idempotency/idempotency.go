package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/redis"
)

const claimedValue = "1"

// Guard claims message ids within one scope so a redelivered message is
// applied once. A failed handler releases its claim so the next delivery
// retries. Keys look like `modoria:idempotency:<scope>:<id>`.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// New builds a guard for scope. A zero ttl keeps claims until released.
func New(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

// ForConsumer scopes claims to a named outbox consumer.
func ForConsumer(store redis.IdempotencyStore, ttl time.Duration, consumer string) (*Guard, error) {
	if strings.TrimSpace(consumer) == "" {
		return nil, errors.New("consumer name is required")
	}
	return New(store, ttl, "evt:processed:"+consumer)
}

// Claim reports whether the caller is the first to see id.
func (g *Guard) Claim(ctx context.Context, id string) (bool, error) {
	key, err := g.key(id)
	if err != nil {
		return false, err
	}
	fresh, err := g.store.SetNX(ctx, key, claimedValue, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return fresh, nil
}

// Release drops the claim on id.
func (g *Guard) Release(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) Scope() string { return g.scope }

func (g *Guard) key(id string) (string, error) {
	if id == "" {
		return "", errors.New("message id is required")
	}
	return g.store.IdempotencyKey(g.scope, id), nil
}
