package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i, want := range []bool{true, true, false} {
		allowed, count, err := client.FixedWindowAllow(ctx, "coupon-validate:u1", 2, 30*time.Second)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if allowed != want || count != int64(i+1) {
			t.Fatalf("call %d: allowed=%v count=%d", i, allowed, count)
		}
	}
	if ttl := mock.ttls["modoria:rate_limit:coupon-validate:u1"]; ttl != 30*time.Second {
		t.Fatalf("expected window ttl on first hit, got %v", ttl)
	}
	if mock.expires != 1 {
		t.Fatalf("expiry should be set once per window, got %d", mock.expires)
	}
}

func TestFixedWindowAllowRejectsBadWindow(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	if _, _, err := client.FixedWindowAllow(context.Background(), "s", 1, 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestFixedWindowAllowSurfacesEvalError(t *testing.T) {
	mock := newMockCmdable()
	mock.evalErr = errors.New("NOSCRIPT")
	client := &Client{store: mock}
	if _, _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second); !errors.Is(err, mock.evalErr) {
		t.Fatalf("expected wrapped eval error, got %v", err)
	}
}

func TestOwnedLockScripts(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron-worker:dev")

	if ok, _ := client.SetNX(ctx, key, "owner-a", time.Minute); !ok {
		t.Fatal("expected setnx to win")
	}
	if ok, err := client.ExtendLock(ctx, key, "owner-b", time.Hour); err != nil || ok {
		t.Fatalf("foreign extend should fail: ok=%v err=%v", ok, err)
	}
	if ok, err := client.ExtendLock(ctx, key, "owner-a", time.Hour); err != nil || !ok {
		t.Fatalf("owner extend: ok=%v err=%v", ok, err)
	}
	if mock.ttls[key] != time.Hour {
		t.Fatalf("expected extended ttl, got %v", mock.ttls[key])
	}
	if ok, _ := client.ReleaseLock(ctx, key, "owner-b"); ok {
		t.Fatal("foreign release must not delete the lock")
	}
	if ok, err := client.ReleaseLock(ctx, key, "owner-a"); err != nil || !ok {
		t.Fatalf("owner release: ok=%v err=%v", ok, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.IdempotencyKey("payments-webhook", "STRIPE:evt_123")
	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first setnx to win, got %v err=%v", first, err)
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || second {
		t.Fatalf("expected second setnx to lose, got %v err=%v", second, err)
	}
	if err := client.Set(ctx, key, "done", 2*time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, _ := client.Get(ctx, key); v != "done" {
		t.Fatalf("expected overwrite, got %q", v)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if err := client.Ping(ctx); err == nil {
		t.Fatal("expected ping on empty client to fail")
	}
	if _, _, err := client.FixedWindowAllow(ctx, "s", 1, time.Second); err == nil {
		t.Fatal("expected rate limit on empty client to fail")
	}
	if _, err := client.ReleaseLock(ctx, "k", "o"); err == nil {
		t.Fatal("expected release on empty client to fail")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client should be a no-op, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("scope", "id"):       "modoria:idempotency:scope:id",
		client.RateLimitKey("checkout:u1"):         "modoria:rate_limit:checkout:u1",
		client.LockKey("cron-worker:prod"):         "modoria:lock:cron-worker:prod",
		client.IdempotencyKey("", "id"):            "modoria:idempotency:id",
		client.IdempotencyKey(" scope ", "evt_1 "): "modoria:idempotency:scope:evt_1",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

// mockCmdable emulates the three scripts the client sends.
type mockCmdable struct {
	data    map[string]string
	ttls    map[string]time.Duration
	expires int
	evalErr error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.ttls, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if m.evalErr != nil {
		return redis.NewCmdResult(nil, m.evalErr)
	}
	key := keys[0]
	switch script {
	case fixedWindowScript:
		var n int64
		_, _ = fmt.Sscan(m.data[key], &n)
		n++
		m.data[key] = fmt.Sprint(n)
		if n == 1 {
			m.ttls[key] = time.Duration(args[0].(int64)) * time.Millisecond
			m.expires++
		}
		return redis.NewCmdResult(n, nil)
	case releaseOwnedScript:
		if m.data[key] != args[0] {
			return redis.NewCmdResult(int64(0), nil)
		}
		delete(m.data, key)
		delete(m.ttls, key)
		return redis.NewCmdResult(int64(1), nil)
	case extendOwnedScript:
		if m.data[key] != args[0] {
			return redis.NewCmdResult(int64(0), nil)
		}
		m.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}
