package execution

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "IntentChain/internal/errors"
)

func newTestRecord(id string) *Record {
	return &Record{
		ID:          id,
		Intent:      "给 alice 转 5 个代币",
		SyntheticID: "combined-" + id,
		Chain:       "local",
		Address:     "0xabc",
		Plan:        json.RawMessage(`{"acting_address":"0xabc","operations":[]}`),
		Effects:     []string{"转账 5 到 alice"},
		Status:      StatusPending,
		MaxRetries:  3,
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestRecord("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newTestRecord("r1")); !stdErrors.Is(err, ErrRecordConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	claimed, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed record: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}

	if _, err := store.Claim(ctx, "r1"); !stdErrors.Is(err, ErrRecordConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	outcome := Outcome{Digest: "0xdeadbeef", BlockNumber: "12", Chain: "local"}
	if err := store.MarkSucceeded(ctx, "r1", outcome); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !stdErrors.Is(err, ErrRecordCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result == nil || got.Result.Digest != "0xdeadbeef" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
}

func TestMemoryStoreExhaustsRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := newTestRecord("r2")
	record.MaxRetries = 2
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Claim(ctx, "r2"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := store.MarkFailed(ctx, "r2", xerrors.CodeSubmissionFailed, "节点超时", false); err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
	}

	if _, err := store.Claim(ctx, "r2"); !stdErrors.Is(err, ErrRecordExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	for _, id := range []string{"r1", "r2", "r3"} {
		record := newTestRecord(id)
		if id == "r3" {
			record.Chain = "sepolia"
		}
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	if err := store.MarkFailed(ctx, "r2", xerrors.CodeSubmissionFailed, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r3", Outcome{Digest: "0xfeed", Chain: "sepolia"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.records["r1"].UpdatedAt = base.Unix()
	store.records["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.records["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].ID != "r3" {
		t.Fatalf("expected newest record first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "r2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	byChain, err := store.List(ctx, buildListOptions([]ListOption{WithChain("sepolia")}))
	if err != nil {
		t.Fatalf("list by chain: %v", err)
	}
	if len(byChain) != 1 || byChain[0].ID != "r3" {
		t.Fatalf("unexpected chain list: %+v", byChain)
	}

	byDigest, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("0xfeed")}))
	if err != nil {
		t.Fatalf("list by digest: %v", err)
	}
	if len(byDigest) != 1 || byDigest[0].ID != "r3" {
		t.Fatalf("unexpected digest list: %+v", byDigest)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
