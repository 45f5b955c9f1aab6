package utils

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLeaseScriptsCompile(t *testing.T) {
	if leaseReleaseScript == nil || leaseExtendScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestRedisLease_KeyPrefix(t *testing.T) {
	l := NewRedisLease(nil, "memorial-credits")
	if got := l.key("orphan-sweep"); got != "memorial-credits:orphan-sweep" {
		t.Fatalf("unexpected key %q", got)
	}
	if l.token == "" {
		t.Fatalf("expected holder token")
	}
}

func TestRedisLease_RejectsNilClient(t *testing.T) {
	l := NewRedisLease(nil, "")
	if _, err := l.Acquire(context.Background(), "x", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisLease_ExtendRejectsNilClient(t *testing.T) {
	if err := NewRedisLease(nil, "").Extend(context.Background(), "x", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

// Requires a disposable Redis; set REDIS_TEST_ADDR to run.
func TestRedisLease_ExtendOnlyWhileHeld(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer rdb.Close()

	prefix := "lease-test-" + uuid.NewString()
	a := NewRedisLease(rdb, prefix)
	b := NewRedisLease(rdb, prefix)

	ok, err := a.Acquire(ctx, "sweep", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := b.Acquire(ctx, "sweep", time.Second); ok {
		t.Fatalf("second holder must not acquire")
	}
	if err := a.Extend(ctx, "sweep", time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ttl := rdb.PTTL(ctx, a.key("sweep")).Val(); ttl <= time.Second {
		t.Fatalf("expected extended ttl, got %s", ttl)
	}
	if err := b.Extend(ctx, "sweep", time.Minute); !errors.Is(err, ErrLeaseNotHeld) {
		t.Fatalf("expected ErrLeaseNotHeld for other holder, got %v", err)
	}
	if err := a.Release(ctx, "sweep"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := a.Extend(ctx, "sweep", time.Minute); !errors.Is(err, ErrLeaseNotHeld) {
		t.Fatalf("expected ErrLeaseNotHeld after release, got %v", err)
	}
}
