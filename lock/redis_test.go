package lock_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satsprocure/escrow/lock"
)

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("ESCROW_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("ESCROW_TEST_REDIS_ADDRESS not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	l := lock.NewRedis(rdb, 2*time.Second, lock.WithKeyPrefix("escrow-test:"+time.Now().Format("150405.000000")+":"))

	release, err := l.Obtain(ctx, "invoice:1")
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Obtain(waitCtx, "invoice:1"); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}

	release()

	r2, err := l.Obtain(ctx, "invoice:1")
	if err != nil {
		t.Fatalf("expected lock after release: %v", err)
	}
	r2()
}
