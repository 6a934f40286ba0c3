package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCellRefreshOnExpiry(t *testing.T) {
	calls := 0
	cell := NewCell(50*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	})

	current := time.Unix(1000, 0)
	cell.now = func() time.Time { return current }

	v, err := cell.Get(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("first load: v=%d err=%v", v, err)
	}

	// 未过期时命中缓存。
	v, err = cell.Get(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("cached read: v=%d err=%v", v, err)
	}
	if calls != 1 {
		t.Fatalf("expected single loader call, got %d", calls)
	}

	current = current.Add(100 * time.Millisecond)
	v, err = cell.Get(context.Background())
	if err != nil || v != 2 {
		t.Fatalf("refresh after expiry: v=%d err=%v", v, err)
	}
}

func TestCellKeepsStaleValueOnLoaderFailure(t *testing.T) {
	healthy := true
	cell := NewCell(10*time.Millisecond, func(ctx context.Context) (string, error) {
		if !healthy {
			return "", errors.New("backend down")
		}
		return "pools-v1", nil
	})

	current := time.Unix(2000, 0)
	cell.now = func() time.Time { return current }

	if _, err := cell.Get(context.Background()); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	healthy = false
	current = current.Add(time.Second)
	v, err := cell.Get(context.Background())
	if err == nil {
		t.Fatalf("expected loader error")
	}
	if v != "pools-v1" {
		t.Fatalf("expected stale value, got %q", v)
	}
}

func TestCellInvalidate(t *testing.T) {
	calls := 0
	cell := NewCell(time.Hour, func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	})

	if _, err := cell.Get(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	cell.Invalidate()
	if _, err := cell.Get(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", calls)
	}
}
