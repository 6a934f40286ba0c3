package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"IntentChain/internal/execution"
	"IntentChain/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, *execution.MemoryStore) {
	t.Helper()
	store := execution.NewMemoryStore()
	queue := execution.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	svc := execution.NewService(store, queue, 3)
	return NewServer(":0", nil, svc), store
}

func samplePlan() *ledger.Plan {
	return &ledger.Plan{
		ActingAddress: "0xabc",
		Operations: []ledger.Operation{
			{Kind: ledger.OpKindLiteral, Name: "amount", Type: "u64", Value: "5"},
			{Kind: ledger.OpKindTransfer, Sources: []string{"amount"}, Target: "0xdef"},
		},
	}
}

func TestHandleSubmitExecution(t *testing.T) {
	server, _ := newTestServer(t)

	payload := submitRequest{
		Intent:  "给 alice 转 5 个代币",
		Chain:   "local",
		Address: "0xabc",
		Plan:    samplePlan(),
		Effects: []string{"转账 5 到 0xdef"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	server.handleExecutions(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var record execution.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.ID == "" {
		t.Fatalf("expected generated record id")
	}
	if record.Status != execution.StatusPending {
		t.Fatalf("unexpected status: %s", record.Status)
	}
}

func TestHandleSubmitExecutionRejectsEmptyPlan(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(`{"address":"0xabc"}`))
	rec := httptest.NewRecorder()

	server.handleExecutions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != string(execution.CodeRecordValidation) {
		t.Fatalf("unexpected error code: %s", resp.Code)
	}
}

func TestHandleExecutionDetail(t *testing.T) {
	server, store := newTestServer(t)

	planJSON, _ := json.Marshal(samplePlan())
	sample := &execution.Record{
		ID:         "exec-success",
		Intent:     "demo",
		Chain:      "local",
		Address:    "0xabc",
		Plan:       planJSON,
		Status:     execution.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		Result: &execution.Outcome{
			Digest: "0xfeed",
			Chain:  "local",
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample record: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/exec-success", nil)
	rec := httptest.NewRecorder()

	server.handleExecutionDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got execution.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected record id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.Digest != "0xfeed" {
		t.Fatalf("unexpected record result: %+v", got.Result)
	}
}

func TestHandleExecutionDetailErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/executions/exec-1", nil)
		rec := httptest.NewRecorder()

		server.handleExecutionDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/", nil)
		rec := httptest.NewRecorder()

		server.handleExecutionDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/missing", nil)
		rec := httptest.NewRecorder()

		server.handleExecutionDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleExecutionStats(t *testing.T) {
	server, store := newTestServer(t)

	planJSON, _ := json.Marshal(samplePlan())
	for _, id := range []string{"a", "b"} {
		record := &execution.Record{
			ID:         id,
			Intent:     "demo",
			Address:    "0xabc",
			Plan:       planJSON,
			Status:     execution.StatusPending,
			MaxRetries: 3,
		}
		if err := store.Create(context.Background(), record); err != nil {
			t.Fatalf("create record %s: %v", id, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/stats", nil)
	rec := httptest.NewRecorder()

	server.handleExecutionDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var stats execution.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
